package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// scheduleLocked arms (or restarts) the debounce timer so a burst of edits
// coalesces into one apply. Caller holds e.mu. No-op until initialization
// completes and after Stop.
func (e *Engine) scheduleLocked() {
	if !e.initialized || e.closed {
		return
	}
	e.rearmLocked(e.cfg.Debounce)
	if e.phase == phaseIdle {
		e.phase = phasePending
	}
}

// rearmLocked replaces the debounce timer with one firing after d.
func (e *Engine) rearmLocked(d time.Duration) {
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(d, e.fireDebounce)
}

// fireDebounce runs when the debounce window elapses.
func (e *Engine) fireDebounce() {
	e.mu.Lock()
	e.debounce = nil
	if e.closed {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	if err := e.Apply(ctx); err != nil {
		e.logger.Warn("scheduled apply failed", zap.Error(err))
	}
}

// Apply pushes the current desired state to the backend if it differs from
// the last successfully applied state. Safe to call directly: the
// signature check makes it idempotent, and a second caller while an apply
// is in flight re-arms the debounce timer instead of running concurrently
// (last write wins, never concurrent).
func (e *Engine) Apply(ctx context.Context) error {
	e.mu.Lock()
	sig := rulesSignature(e.rules)
	if e.mode == e.lastAppliedMode && sig == e.lastAppliedSig {
		// Nothing to push. Only fall back to idle if no timer was re-armed
		// behind our back.
		if e.phase == phasePending && e.debounce == nil {
			e.phase = phaseIdle
		}
		e.mu.Unlock()
		return nil
	}
	if e.phase == phaseApplying {
		e.rearmLocked(e.cfg.BusyDebounce)
		e.mu.Unlock()
		return nil
	}
	e.phase = phaseApplying
	mode := e.mode
	rules := append([]domain.AppRule(nil), e.rules...)
	e.mu.Unlock()

	return e.runApply(ctx, mode, rules, sig)
}

// runApply issues the single in-flight backend call and folds the result
// back in. The applied-state snapshot only advances on success, so a failed
// apply is retried by the next qualifying edit or direct Apply call.
func (e *Engine) runApply(ctx context.Context, mode domain.ProxyMode, rules []domain.AppRule, sig string) error {
	status, err := e.backend.SetMode(ctx, mode, rules)

	var applyErr *BackendError
	e.mu.Lock()
	if err != nil {
		classified := Classify(err.Error())
		applyErr = &classified
		e.lastApplyErr = applyErr
	} else {
		e.lastApplyErr = nil
		e.lastAppliedMode = mode
		e.lastAppliedSig = sig
		e.status = status
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("apply rejected by backend",
			zap.String("mode", string(mode)),
			zap.String("kind", string(applyErr.Kind)),
			zap.Error(err))
	} else {
		e.logger.Info("applied desired state",
			zap.String("mode", string(mode)),
			zap.Int("rules", len(rules)))
	}

	// Cleanup refreshes run while the phase is still applying, so a stale
	// status poll cannot adopt a mode over the one just pushed, and they
	// always run regardless of the apply outcome.
	if rerr := e.RefreshStatus(ctx); rerr != nil {
		e.logger.Debug("status refresh after apply failed", zap.Error(rerr))
	}
	if lerr := e.LoadLogTail(ctx, e.cfg.LogTailLimit); lerr != nil {
		e.logger.Debug("log refresh after apply failed", zap.Error(lerr))
	}

	e.mu.Lock()
	e.phase = phaseIdle
	e.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}
	return nil
}

// LastApplyError returns the classification of the most recent failed
// apply, or nil after a success.
func (e *Engine) LastApplyError() *BackendError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplyErr
}
