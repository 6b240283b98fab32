// Package backend supervises the sing-box engine over a data directory:
// it owns the profile and state files, generates the engine config from
// the desired (mode, rules) pair, and runs the child process.
package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// Config holds the backend file layout and log rotation limits.
type Config struct {
	// DataDir is the directory holding the profile, state files, the
	// generated config and the log.
	DataDir string

	// BinaryPath overrides the engine binary location. Empty means the
	// bundled bin/sing-box under DataDir.
	BinaryPath string

	LogMaxSizeMB  int
	LogMaxBackups int
}

// DefaultConfig returns the default backend configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:       dataDir,
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
	}
}

// Backend implements domain.Backend over a local sing-box installation.
type Backend struct {
	cfg    Config
	lister domain.ProcessLister
	logger *zap.Logger

	mu         sync.Mutex
	child      *exec.Cmd
	mode       domain.ProxyMode
	lastExit   *int
	lastErr    string
	watchToken uint64

	logMu     sync.Mutex
	logWriter *lumberjack.Logger

	events chan domain.Event
	closed bool
}

// New creates the backend and its data directory.
func New(cfg Config, lister domain.ProcessLister, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errf(CodePathError, "%v", err)
	}
	b := &Backend{
		cfg:    cfg,
		lister: lister,
		logger: logger,
		mode:   domain.ModeOff,
		events: make(chan domain.Event, 16),
	}
	b.logWriter = &lumberjack.Logger{
		Filename:   b.logPath(),
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
	return b, nil
}

// Close stops the child process and closes the event stream.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.watchToken++
	b.stopChildLocked()
	closed := b.closed
	b.closed = true
	b.mu.Unlock()

	if !closed {
		close(b.events)
	}
	b.logMu.Lock()
	err := b.logWriter.Close()
	b.logMu.Unlock()
	return err
}

func (b *Backend) appStatePath() string     { return filepath.Join(b.cfg.DataDir, "app.state.json") }
func (b *Backend) profilePath() string      { return filepath.Join(b.cfg.DataDir, "profile.json") }
func (b *Backend) profileStatePath() string { return filepath.Join(b.cfg.DataDir, "profile.state.json") }
func (b *Backend) logPath() string          { return filepath.Join(b.cfg.DataDir, "singbox.log") }

func (b *Backend) generatedConfigPath() string {
	return filepath.Join(b.cfg.DataDir, "singbox.generated.json")
}

func (b *Backend) ruleSetPath(name string) string {
	return filepath.Join(b.cfg.DataDir, "rule-sets", name)
}

func (b *Backend) binPath() string {
	if b.cfg.BinaryPath != "" {
		return b.cfg.BinaryPath
	}
	name := "sing-box"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(b.cfg.DataDir, "bin", name)
}

// GetSavedState returns the persisted desired state.
func (b *Backend) GetSavedState(ctx context.Context) (domain.SavedState, error) {
	return b.loadSavedState(), nil
}

// GetStatus reports the current proxy process status. Config and log
// paths appear only once the corresponding files exist.
func (b *Backend) GetStatus(ctx context.Context) (domain.ProxyStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked(), nil
}

func (b *Backend) statusLocked() domain.ProxyStatus {
	status := domain.ProxyStatus{
		Running:     b.child != nil,
		Mode:        b.mode,
		LastExit:    b.lastExit,
		LastError:   b.lastErr,
		ProfilePath: b.profilePath(),
	}
	if b.child != nil && b.child.Process != nil {
		status.PID = b.child.Process.Pid
	}
	if _, err := os.Stat(b.generatedConfigPath()); err == nil {
		status.ConfigPath = b.generatedConfigPath()
	}
	if _, err := os.Stat(b.logPath()); err == nil {
		status.LogPath = b.logPath()
	}
	return status
}

// SetMode pushes the full desired state. The state file is persisted
// before the engine is touched, so a crash mid-apply still leaves the
// desired state recoverable on the next start.
func (b *Backend) SetMode(ctx context.Context, mode domain.ProxyMode, rules []domain.AppRule) (domain.ProxyStatus, error) {
	if !mode.Valid() {
		return domain.ProxyStatus{}, errf(CodeStateInvalid, "mode %q", mode)
	}
	if err := b.saveSavedState(domain.SavedState{LastMode: mode, AppRules: rules}); err != nil {
		return domain.ProxyStatus{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.watchToken++
	b.stopChildLocked()
	b.mode = domain.ModeOff
	b.lastErr = ""

	if mode == domain.ModeOff {
		return b.statusLocked(), nil
	}

	configPath, err := b.buildConfig(mode, rules)
	if err != nil {
		b.lastErr = err.Error()
		return b.statusLocked(), err
	}

	bin := b.binPath()
	if _, err := os.Stat(bin); err != nil {
		berr := errf(CodeSingboxMissing, "%s", bin)
		b.lastErr = berr.Error()
		return b.statusLocked(), berr
	}

	cmd := exec.Command(bin, "run", "-c", configPath)
	cmd.Dir = b.cfg.DataDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		berr := errf(CodeStartFailed, "%v", err)
		b.lastErr = berr.Error()
		return b.statusLocked(), berr
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		berr := errf(CodeStartFailed, "%v", err)
		b.lastErr = berr.Error()
		return b.statusLocked(), berr
	}
	if err := cmd.Start(); err != nil {
		berr := errf(CodeStartFailed, "%v", err)
		b.lastErr = berr.Error()
		return b.statusLocked(), berr
	}

	b.child = cmd
	b.mode = mode
	b.lastExit = nil
	token := b.watchToken

	b.startLogPump(stdout, stderr, token)
	go b.watchChild(cmd, token)

	b.logger.Info("proxy started",
		zap.String("mode", string(mode)),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("config", configPath))
	return b.statusLocked(), nil
}

// stopChildLocked kills the current child, if any. The child's watcher
// goroutine reaps it; callers have already bumped the watch token, so
// that watcher reports nothing.
func (b *Backend) stopChildLocked() {
	if b.child == nil {
		return
	}
	_ = b.child.Process.Kill()
	b.child = nil
}

// watchChild reaps the child and publishes its exit. A stale token means
// the exit was initiated by a newer SetMode and is not an event.
func (b *Backend) watchChild(cmd *exec.Cmd, token uint64) {
	err := cmd.Wait()

	b.mu.Lock()
	if token != b.watchToken {
		b.mu.Unlock()
		return
	}
	var code *int
	if cmd.ProcessState != nil {
		c := cmd.ProcessState.ExitCode()
		if c >= 0 {
			code = &c
		}
	}
	b.child = nil
	b.mode = domain.ModeOff
	b.lastExit = code
	if err != nil {
		b.lastErr = errf(CodeStartFailed, "%v", err).Error()
	}
	b.mu.Unlock()

	b.logger.Warn("proxy exited", zap.Error(err))
	b.emit(domain.ProxyExited{Code: code})
}

// ListProcesses returns the running-process snapshot. Without a lister the
// snapshot is empty rather than an error.
func (b *Backend) ListProcesses(ctx context.Context) ([]domain.RunningProcess, error) {
	if b.lister == nil {
		return nil, nil
	}
	return b.lister.Snapshot(ctx)
}

// Events returns the push stream of daemon notifications.
func (b *Backend) Events() <-chan domain.Event {
	return b.events
}

// emit publishes an event without ever blocking a supervisor goroutine.
// A full channel drops the event; consumers refresh on the next one.
func (b *Backend) emit(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- event:
	default:
	}
}
