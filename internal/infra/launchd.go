package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

const launchdLabel = "com.yotsubacore.launcher"

// LaunchAgent plist template (runs as user at login)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
}

// LaunchdAutostart implements domain.Autostart with a LaunchAgent plist.
type LaunchdAutostart struct {
	execPath  string
	plistDir  string
	plistPath string
}

// NewAutostart creates an autostart manager for the current executable.
func NewAutostart() (domain.Autostart, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	plistDir := filepath.Join(home, "Library/LaunchAgents")
	return NewAutostartWithPath(execPath, plistDir), nil
}

// NewAutostartWithPath creates an autostart manager with an explicit plist
// directory. Used by tests.
func NewAutostartWithPath(execPath, plistDir string) *LaunchdAutostart {
	return &LaunchdAutostart{
		execPath:  execPath,
		plistDir:  plistDir,
		plistPath: filepath.Join(plistDir, launchdLabel+".plist"),
	}
}

// Enable writes the plist and loads it.
func (l *LaunchdAutostart) Enable() error {
	if err := os.MkdirAll(l.plistDir, 0o755); err != nil {
		return err
	}

	content, err := l.generatePlistContent()
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.plistPath, content, 0o644); err != nil {
		return err
	}

	// Best effort: launchctl is absent on non-macOS hosts and in CI.
	_ = exec.Command("launchctl", "load", l.plistPath).Run()
	return nil
}

// Disable unloads and removes the plist.
func (l *LaunchdAutostart) Disable() error {
	_ = exec.Command("launchctl", "unload", l.plistPath).Run()

	err := os.Remove(l.plistPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsEnabled reports whether the plist is installed.
func (l *LaunchdAutostart) IsEnabled() bool {
	_, err := os.Stat(l.plistPath)
	return err == nil
}

func (l *LaunchdAutostart) generatePlistContent() ([]byte, error) {
	tmpl, err := template.New("plist").Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	config := plistConfig{Label: launchdLabel, ExecutablePath: l.execPath}
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Ensure LaunchdAutostart implements domain.Autostart.
var _ domain.Autostart = (*LaunchdAutostart)(nil)
