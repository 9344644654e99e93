package audio

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"callpilot/internal/ports"
)

// DesktopMicPermissions adapts the OS permission triad for desktops without a
// mediating permission portal: the state can be forced through an env var for
// platforms (and tests) that gate microphone access, and the denied remedy
// opens the system sound settings.
type DesktopMicPermissions struct {
	SettingsCommand string
	SettingsArgs    []string
}

func NewDesktopMicPermissions() *DesktopMicPermissions {
	return &DesktopMicPermissions{
		SettingsCommand: "xdg-open",
		SettingsArgs:    []string{"settings://sound"},
	}
}

func (p *DesktopMicPermissions) Status(_ context.Context) (ports.PermissionStatus, error) {
	return parsePermission(os.Getenv("CALLPILOT_MIC_PERMISSION"), ports.PermissionGranted), nil
}

func (p *DesktopMicPermissions) Request(_ context.Context) (ports.PermissionStatus, error) {
	return parsePermission(os.Getenv("CALLPILOT_MIC_PERMISSION_PROMPT"), ports.PermissionGranted), nil
}

func (p *DesktopMicPermissions) OpenSettings(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.SettingsCommand, p.SettingsArgs...)
	return cmd.Start()
}

func parsePermission(value string, fallback ports.PermissionStatus) ports.PermissionStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted":
		return ports.PermissionGranted
	case "denied":
		return ports.PermissionDenied
	case "undetermined":
		return ports.PermissionUndetermined
	default:
		return fallback
	}
}
