// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "strings"

// ProxyMode is the global proxying policy.
type ProxyMode string

const (
	// ModeOff disables the proxy entirely.
	ModeOff ProxyMode = "off"
	// ModeSelected routes only apps with a proxy rule through the proxy.
	ModeSelected ProxyMode = "selected"
	// ModeFull routes all traffic through the proxy.
	ModeFull ProxyMode = "full"
)

// Valid reports whether m is one of the known modes.
func (m ProxyMode) Valid() bool {
	switch m {
	case ModeOff, ModeSelected, ModeFull:
		return true
	}
	return false
}

// Rule modes. The rule store only ever persists proxy rules; direct entries
// exist solely in the derived app list.
const (
	RuleModeProxy  = "proxy"
	RuleModeDirect = "direct"
)

// AppRule maps a filesystem path or bare process name to "always proxy".
// At most one rule exists per normalized path.
type AppRule struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// NormalizePath strips surrounding quotes and leading/trailing whitespace.
func NormalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	return strings.Trim(trimmed, `"`)
}

// IsProcessName reports whether a normalized rule path is a bare process
// name rather than a filesystem path: no separators and no drive colon.
func IsProcessName(value string) bool {
	v := NormalizePath(value)
	if v == "" {
		return false
	}
	if strings.ContainsAny(v, `\/`) {
		return false
	}
	if strings.Contains(v, ":") {
		return false
	}
	return true
}

// RunningProcess is one entry of the observed process snapshot, aggregated
// by executable path. Snapshots are replaced wholesale on every poll.
type RunningProcess struct {
	Name  string  `json:"name"`
	Path  string  `json:"path"`
	Count int     `json:"count"`
	PIDs  []int32 `json:"pids"`
}

// AppListItem is a derived row of the unified app list. It is produced
// fresh on every read and never stored.
type AppListItem struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	Count   int    `json:"count"`
	Mode    string `json:"mode"`
}

// ProxyStatus mirrors the daemon's view of the proxy process. Replaced
// wholesale after every status refresh or apply.
type ProxyStatus struct {
	Running     bool      `json:"running"`
	Mode        ProxyMode `json:"mode"`
	PID         int       `json:"pid,omitempty"`
	LastExit    *int      `json:"lastExit,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	ConfigPath  string    `json:"configPath,omitempty"`
	ProfilePath string    `json:"profilePath"`
	LogPath     string    `json:"logPath,omitempty"`
}

// SavedState is the persisted desired state the daemon hands back at startup.
type SavedState struct {
	LastMode ProxyMode `json:"lastMode"`
	AppRules []AppRule `json:"appRules"`
}

// ProfileData is the wholesale profile view: raw outbound JSON documents
// plus the active outbound tag (empty when none is selected).
type ProfileData struct {
	Outbounds []string `json:"outbounds"`
	ActiveTag string   `json:"activeTag,omitempty"`
}

// ProfileItem is the normalized view of a single outbound document.
type ProfileItem struct {
	Tag        string `json:"tag"`
	Type       string `json:"type"`
	Server     string `json:"server,omitempty"`
	ServerPort int    `json:"serverPort,omitempty"`
	Raw        string `json:"raw"`
}

// ImportResult reports the outcome of a profile import. Errors carries
// per-item warnings from partial failures; successfully parsed items are
// imported regardless.
type ImportResult struct {
	Profile ProfileData `json:"profile"`
	Added   int         `json:"added"`
	Errors  []string    `json:"errors,omitempty"`
}

// Event is a daemon-initiated push notification. The two payloads share a
// single stream so their relative ordering stays explicit.
type Event interface {
	isEvent()
}

// ProxyExited signals that the proxy process terminated. Code is nil when
// the exit status is unknown.
type ProxyExited struct {
	Code *int
}

// LogBatch carries a batch of proxy log lines.
type LogBatch struct {
	Lines []string
}

func (ProxyExited) isEvent() {}
func (LogBatch) isEvent()    {}
