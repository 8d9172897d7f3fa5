// Package hookevent decodes the JSON payloads an agent's lifecycle
// hooks deliver on stdin. Only the fields the resolver consumes are
// decoded; everything else in the payload is ignored so new agent
// versions with extra fields keep parsing.
package hookevent

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Name identifies the hook that fired.
type Name string

const (
	SessionStart      Name = "SessionStart"
	UserPromptSubmit  Name = "UserPromptSubmit"
	PreToolUse        Name = "PreToolUse"
	PostToolUse       Name = "PostToolUse"
	PermissionRequest Name = "PermissionRequest"
	Notification      Name = "Notification"
	Stop              Name = "Stop"
	SubagentStop      Name = "SubagentStop"
	PreCompact        Name = "PreCompact"
	SessionEnd        Name = "SessionEnd"
	Unknown           Name = "Unknown"
)

// Known reports whether the event name is one this tool understands.
func (n Name) Known() bool { return n != Unknown }

// NotificationKind classifies a Notification payload by its message.
type NotificationKind string

const (
	// NotifyPermission means the agent is blocked on a permission prompt.
	NotifyPermission NotificationKind = "permission"
	// NotifyIdle means the agent reported it is waiting for user input.
	NotifyIdle NotificationKind = "idle"
	// NotifyOther is any other informational notification.
	NotifyOther NotificationKind = "other"
)

// Event is one decoded hook payload.
type Event struct {
	Name           Name
	SessionID      string
	CWD            string
	TranscriptPath string
	PermissionMode string

	// Tool is set for PreToolUse and PostToolUse.
	Tool string

	// StopHookActive is set for Stop. True means the stop fired from
	// inside a stop hook and the turn is not actually over.
	StopHookActive bool

	// CompactTrigger is set for PreCompact ("manual" or "auto").
	CompactTrigger string

	// Message is the raw Notification text.
	Message string
}

// NotificationKind classifies a Notification event. Returns NotifyOther
// for non-Notification events.
func (e Event) NotificationKind() NotificationKind {
	if e.Name != Notification {
		return NotifyOther
	}
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "approval"):
		return NotifyPermission
	case strings.Contains(msg, "waiting for your input"), strings.Contains(msg, "idle"):
		return NotifyIdle
	default:
		return NotifyOther
	}
}

// payload mirrors the wire layout.
type payload struct {
	HookEventName  string `json:"hook_event_name"`
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	PermissionMode string `json:"permission_mode"`
	ToolName       string `json:"tool_name"`
	StopHookActive bool   `json:"stop_hook_active"`
	Trigger        string `json:"trigger"`
	Message        string `json:"message"`
}

// Parse decodes one hook payload. Missing fields are tolerated; an
// unrecognized hook_event_name yields Name Unknown rather than an
// error. Only a missing session_id or undecodable JSON is fatal.
func Parse(r io.Reader) (Event, error) {
	var p payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return Event{}, fmt.Errorf("decode hook payload: %w", err)
	}
	return fromPayload(p)
}

// ParseBytes decodes one hook payload from a byte slice.
func ParseBytes(data []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("decode hook payload: %w", err)
	}
	return fromPayload(p)
}

func fromPayload(p payload) (Event, error) {
	if p.SessionID == "" {
		return Event{}, fmt.Errorf("hook payload missing session_id")
	}

	name := Name(p.HookEventName)
	switch name {
	case SessionStart, UserPromptSubmit, PreToolUse, PostToolUse,
		PermissionRequest, Notification, Stop, SubagentStop,
		PreCompact, SessionEnd:
	default:
		name = Unknown
	}

	return Event{
		Name:           name,
		SessionID:      p.SessionID,
		CWD:            p.CWD,
		TranscriptPath: p.TranscriptPath,
		PermissionMode: p.PermissionMode,
		Tool:           p.ToolName,
		StopHookActive: p.StopHookActive,
		CompactTrigger: p.Trigger,
		Message:        p.Message,
	}, nil
}
