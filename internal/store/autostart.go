package store

import "go.uber.org/zap"

// AutostartEnabled returns the cached start-at-login state.
func (e *Engine) AutostartEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autostartOn
}

// SetAutostart toggles start-at-login. Single-flight: a toggle already in
// progress, or a request matching the cached state, is a no-op. The OS is
// re-queried after the call either way - the re-query result, not the
// requested value, becomes the new cached state.
func (e *Engine) SetAutostart(enable bool) error {
	if e.auto == nil {
		return nil
	}

	e.mu.Lock()
	if e.autostartBusy || enable == e.autostartOn {
		e.mu.Unlock()
		return nil
	}
	e.autostartBusy = true
	e.mu.Unlock()

	var callErr error
	if enable {
		callErr = e.auto.Enable()
	} else {
		callErr = e.auto.Disable()
	}
	if callErr != nil {
		e.logger.Warn("autostart toggle failed", zap.Bool("enable", enable), zap.Error(callErr))
	}

	actual := e.auto.IsEnabled()

	e.mu.Lock()
	e.autostartOn = actual
	e.autostartBusy = false
	e.mu.Unlock()
	return callErr
}
