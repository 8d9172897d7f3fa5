package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform represents the detected platform.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result.
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}
	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	v := string(procVersion)
	return strings.Contains(v, "microsoft") || strings.Contains(v, "Microsoft")
}

// String returns a human-readable platform name.
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL:
		return "WSL"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport checks if a path's filesystem supports fsnotify events
// reliably. Returns a warning message if on a problematic filesystem
// (9p, nfs, cifs, sshfs), or an empty string if fsnotify should work.
// The activity detector uses this to decide between watch mode and polling.
func CheckFsnotifySupport(path string) string {
	// Only relevant on Linux (WSL uses 9p for Windows filesystem access)
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return "" // Can't read mounts, assume OK
	}

	// Find the longest mountpoint prefix of the path.
	// /proc/mounts format: device mountpoint fstype options ...
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		fsType := fields[2]
		if strings.HasPrefix(absPath, mountPoint) && len(mountPoint) > len(matchedMount) {
			matchedMount = mountPoint
			matchedFsType = fsType
		}
	}

	switch {
	case matchedFsType == "9p":
		return "project on 9p mount (WSL Windows filesystem): file watching disabled, using mtime polling"
	case matchedFsType == "nfs" || matchedFsType == "nfs4":
		return "project on NFS mount: file watching may be unreliable, using mtime polling"
	case matchedFsType == "cifs" || matchedFsType == "smbfs":
		return "project on CIFS/SMB mount: file watching may be unreliable, using mtime polling"
	case strings.HasPrefix(matchedFsType, "fuse.sshfs"):
		return "project on SSHFS mount: file watching disabled, using mtime polling"
	}

	return ""
}
