package lockstore

import (
	"os"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo abstracts the OS process table so lock verification can be
// tested without real processes.
type ProcessInfo interface {
	// Alive reports whether a process with the given PID exists.
	Alive(pid int) bool

	// StartTime returns the process creation time in unix milliseconds.
	StartTime(pid int) (int64, error)

	// Name returns the process executable name.
	Name(pid int) (string, error)
}

// osProcessInfo queries the real process table.
type osProcessInfo struct{}

// OSProcessInfo returns a ProcessInfo backed by the operating system.
func OSProcessInfo() ProcessInfo { return osProcessInfo{} }

// Alive checks process existence with signal 0. EPERM still means the
// process exists (owned by another user).
func (osProcessInfo) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

func (osProcessInfo) StartTime(pid int) (int64, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	return p.CreateTime()
}

func (osProcessInfo) Name(pid int) (string, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}
