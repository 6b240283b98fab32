package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// RefreshStatus pulls the backend status and replaces the local mirror
// wholesale. The backend-reported mode is adopted as the desired mode only
// when no apply is in flight, so a stale poll cannot clobber a mode that is
// about to be pushed.
func (e *Engine) RefreshStatus(ctx context.Context) error {
	status, err := e.backend.GetStatus(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.status = status
	if e.phase != phaseApplying && status.Mode.Valid() {
		e.mode = status.Mode
	}
	e.mu.Unlock()
	return nil
}

// Status returns the last mirrored proxy status.
func (e *Engine) Status() domain.ProxyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LoadLogTail pulls up to limit trailing log lines from the backend and
// replaces the local buffer, keeping at most the configured cap.
func (e *Engine) LoadLogTail(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = e.cfg.LogTailLimit
	}
	lines, err := e.backend.ReadLogTail(ctx, limit)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if len(lines) > e.cfg.LogBufferCap {
		lines = lines[len(lines)-e.cfg.LogBufferCap:]
	}
	e.logs = append([]string(nil), lines...)
	e.mu.Unlock()
	return nil
}

// appendLogs pushes a batch of lines onto the bounded buffer, trimming the
// oldest lines past the cap.
func (e *Engine) appendLogs(lines []string) {
	if len(lines) == 0 {
		return
	}
	e.mu.Lock()
	e.logs = append(e.logs, lines...)
	if over := len(e.logs) - e.cfg.LogBufferCap; over > 0 {
		e.logs = append([]string(nil), e.logs[over:]...)
	}
	e.mu.Unlock()
}

// Logs returns a copy of the mirrored log buffer, oldest first.
func (e *Engine) Logs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.logs...)
}

// Processes returns the last observed process snapshot.
func (e *Engine) Processes() []domain.RunningProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.RunningProcess(nil), e.processes...)
}

// StartProcessPolling begins refreshing the process snapshot on the
// configured interval. Exactly one poller runs at a time: repeated starts
// are no-ops.
func (e *Engine) StartProcessPolling() {
	e.mu.Lock()
	if e.closed || e.pollCancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.pollCancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.pollProcesses(ctx)
}

// StopProcessPolling cancels the poll timer. Idempotent.
func (e *Engine) StopProcessPolling() {
	e.mu.Lock()
	cancel := e.pollCancel
	e.pollCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// pollProcesses refreshes the snapshot immediately and then on every tick.
func (e *Engine) pollProcesses(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.refreshProcesses(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshProcesses(ctx)
		}
	}
}

// refreshProcesses replaces the snapshot wholesale; entries are never
// merged field-by-field.
func (e *Engine) refreshProcesses(ctx context.Context) {
	procs, err := e.backend.ListProcesses(ctx)
	if err != nil {
		e.logger.Debug("process snapshot failed", zap.Error(err))
		return
	}
	e.mu.Lock()
	e.processes = procs
	e.mu.Unlock()
}
