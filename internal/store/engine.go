// Package store implements the desired-state reconciliation engine: it
// tracks the desired proxy mode and app rules, mirrors the backend's
// observed state, and schedules debounced, at-most-one-in-flight applies.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// EngineConfig holds engine tuning knobs.
type EngineConfig struct {
	Debounce     time.Duration // Edit coalescing window before an apply
	BusyDebounce time.Duration // Re-arm delay when an apply is in flight
	PollInterval time.Duration // Process snapshot refresh interval
	LogTailLimit int           // Lines pulled per log tail request
	LogBufferCap int           // Max log lines mirrored locally
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Debounce:     350 * time.Millisecond,
		BusyDebounce: 500 * time.Millisecond,
		PollInterval: 4 * time.Second,
		LogTailLimit: 200,
		LogBufferCap: 500,
	}
}

// applyPhase is the scheduler state. Keeping it a tagged value (rather than
// inferring it from a busy bool plus a timer handle) makes illegal
// transitions such as a double apply unrepresentable.
type applyPhase int

const (
	phaseIdle applyPhase = iota
	phasePending
	phaseApplying
)

// Engine owns the desired state, the observed-state mirrors, and every
// timer and subscription handle. Create with New, then Start; Stop cancels
// pending timers without firing them.
type Engine struct {
	cfg     EngineConfig
	backend domain.Backend
	auto    domain.Autostart
	logger  *zap.Logger

	// Base context for timer- and event-driven backend calls.
	ctx context.Context

	mu          sync.Mutex
	initialized bool
	closed      bool

	mode  domain.ProxyMode
	rules []domain.AppRule

	phase           applyPhase
	debounce        *time.Timer
	lastAppliedMode domain.ProxyMode
	lastAppliedSig  string
	lastApplyErr    *BackendError

	status    domain.ProxyStatus
	processes []domain.RunningProcess
	logs      []string
	profiles  domain.ProfileData

	autostartOn   bool
	autostartBusy bool
	importBusy    bool

	pollCancel  context.CancelFunc
	eventCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an engine over the given backend and autostart capability.
// Zero config fields fall back to defaults.
func New(backend domain.Backend, auto domain.Autostart, logger *zap.Logger, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.BusyDebounce <= 0 {
		cfg.BusyDebounce = def.BusyDebounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LogTailLimit <= 0 {
		cfg.LogTailLimit = def.LogTailLimit
	}
	if cfg.LogBufferCap <= 0 {
		cfg.LogBufferCap = def.LogBufferCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		backend: backend,
		auto:    auto,
		logger:  logger,
		ctx:     context.Background(),
		mode:    domain.ModeOff,
	}
}

// Start loads the saved desired state, snapshots what the backend is
// currently running via one apply, and subscribes to push events. Safe to
// call once.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx

	saved, err := e.backend.GetSavedState(ctx)
	if err != nil {
		e.logger.Warn("failed to load saved state, starting from defaults", zap.Error(err))
		saved = domain.SavedState{LastMode: domain.ModeOff}
	}

	e.mu.Lock()
	if saved.LastMode.Valid() {
		e.mode = saved.LastMode
	}
	e.rules = dedupRules(saved.AppRules)
	e.initialized = true
	e.mu.Unlock()

	e.logger.Info("engine started",
		zap.String("mode", string(e.Mode())),
		zap.Int("rules", len(e.Rules())))

	// Snapshot the applied state. Failures are reported, not fatal: the
	// stale snapshot means the next edit retries the same desired state.
	if err := e.Apply(ctx); err != nil {
		e.logger.Warn("initial apply failed", zap.Error(err))
	}

	if err := e.refreshProfiles(ctx); err != nil {
		e.logger.Debug("initial profile load failed", zap.Error(err))
	}

	if e.auto != nil {
		enabled := e.auto.IsEnabled()
		e.mu.Lock()
		e.autostartOn = enabled
		e.mu.Unlock()
	}

	evCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.eventCancel = cancel
	e.mu.Unlock()
	e.wg.Add(1)
	go e.consumeEvents(evCtx)
	return nil
}

// Stop cancels the debounce timer without firing it, stops polling and the
// event consumer, and waits for background work to settle. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	pollCancel := e.pollCancel
	e.pollCancel = nil
	eventCancel := e.eventCancel
	e.eventCancel = nil
	e.mu.Unlock()

	if pollCancel != nil {
		pollCancel()
	}
	if eventCancel != nil {
		eventCancel()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// consumeEvents dispatches the backend's push stream: process-exit
// notifications trigger an unconditional status refresh, log batches feed
// the bounded buffer.
func (e *Engine) consumeEvents(ctx context.Context) {
	defer e.wg.Done()
	events := e.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case domain.ProxyExited:
				e.logger.Info("proxy exited", zap.Any("code", ev.Code))
				if err := e.RefreshStatus(ctx); err != nil {
					e.logger.Debug("status refresh after exit failed", zap.Error(err))
				}
			case domain.LogBatch:
				e.appendLogs(ev.Lines)
			}
		}
	}
}

// dedupRules normalizes saved rules into the store's shape: normalized
// path, proxy mode, at most one rule per path.
func dedupRules(rules []domain.AppRule) []domain.AppRule {
	seen := make(map[string]struct{}, len(rules))
	out := make([]domain.AppRule, 0, len(rules))
	for _, r := range rules {
		path := domain.NormalizePath(r.Path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, domain.AppRule{
			Path: path,
			Mode: domain.RuleModeProxy,
			Name: r.Name,
		})
	}
	return out
}
