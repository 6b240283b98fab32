package domain

import "context"

// Backend is the daemon request/response surface the engine reconciles
// against. Failures arrive as typed "CODE|detail" error strings.
// Implementation: in-process sing-box supervisor over a data directory.
type Backend interface {
	// GetSavedState returns the desired state persisted by the last apply.
	GetSavedState(ctx context.Context) (SavedState, error)

	// GetStatus returns the current proxy process status.
	GetStatus(ctx context.Context) (ProxyStatus, error)

	// SetMode pushes the full desired state (mode plus every rule, never a
	// diff) and reconfigures the running proxy.
	SetMode(ctx context.Context, mode ProxyMode, rules []AppRule) (ProxyStatus, error)

	// ListProcesses returns the current running-process snapshot.
	ListProcesses(ctx context.Context) ([]RunningProcess, error)

	// ReadLogTail returns up to limit trailing lines of the proxy log.
	ReadLogTail(ctx context.Context, limit int) ([]string, error)

	// GetProfiles returns the outbound documents and the active tag.
	GetProfiles(ctx context.Context) (ProfileData, error)

	// SetActiveProfile selects the outbound the proxy selector targets.
	SetActiveProfile(ctx context.Context, tag string) (ProfileData, error)

	// RemoveOutbound deletes an outbound by tag, clearing the active tag
	// if it pointed at the removed outbound.
	RemoveOutbound(ctx context.Context, tag string) (ProfileData, error)

	// ImportShareLinks parses share links into outbounds. Individual bad
	// links become warnings; the call fails only when nothing parses.
	ImportShareLinks(ctx context.Context, links []string) (ImportResult, error)

	// ImportOutboundJSON imports a raw outbound JSON payload: an array, an
	// object with an "outbounds" key, or a single outbound object.
	ImportOutboundJSON(ctx context.Context, payload string) (ImportResult, error)

	// Events returns the push stream of daemon-initiated notifications.
	Events() <-chan Event
}

// Autostart is the OS start-at-login capability.
// Implementation: launchd LaunchAgent plist on macOS.
type Autostart interface {
	// Enable registers the launcher to start at login.
	Enable() error

	// Disable removes the start-at-login registration.
	Disable() error

	// IsEnabled queries the OS for the current registration state.
	IsEnabled() bool
}

// ProcessLister produces the observed running-process snapshot.
// Implementation: uses gopsutil for cross-platform support.
type ProcessLister interface {
	// Snapshot returns running processes aggregated by executable path.
	Snapshot(ctx context.Context) ([]RunningProcess, error)
}
