package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchdAutostart_EnableWritesPlist(t *testing.T) {
	tmpDir := t.TempDir()
	auto := NewAutostartWithPath("/usr/local/bin/yotsuba", filepath.Join(tmpDir, "LaunchAgents"))

	require.False(t, auto.IsEnabled(), "autostart should be disabled before enable")
	require.NoError(t, auto.Enable())
	assert.True(t, auto.IsEnabled())

	content, err := os.ReadFile(auto.plistPath)
	require.NoError(t, err)

	plist := string(content)
	assert.Contains(t, plist, launchdLabel)
	assert.Contains(t, plist, "/usr/local/bin/yotsuba")
	assert.Contains(t, plist, "<string>run</string>")
}

func TestLaunchdAutostart_DisableRemovesPlist(t *testing.T) {
	tmpDir := t.TempDir()
	auto := NewAutostartWithPath("/usr/local/bin/yotsuba", tmpDir)

	require.NoError(t, auto.Enable())
	require.NoError(t, auto.Disable())
	assert.False(t, auto.IsEnabled())

	// Disabling again is not an error
	assert.NoError(t, auto.Disable())
}

func TestLaunchdAutostart_EnableIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	auto := NewAutostartWithPath("/usr/local/bin/yotsuba", tmpDir)

	require.NoError(t, auto.Enable())
	require.NoError(t, auto.Enable())
	assert.True(t, auto.IsEnabled())
}
