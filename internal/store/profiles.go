package store

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// ErrImportBusy is returned when an import is requested while another one
// is still running. The flag is advisory: it serializes imports from the
// caller's perspective without blocking other profile operations.
var ErrImportBusy = errors.New("another import is in progress")

// Profiles returns the last mirrored profile data.
func (e *Engine) Profiles() domain.ProfileData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profiles
}

// ProfileItems returns the normalized view of the mirrored outbounds.
func (e *Engine) ProfileItems() []domain.ProfileItem {
	data := e.Profiles()
	items := make([]domain.ProfileItem, 0, len(data.Outbounds))
	for _, raw := range data.Outbounds {
		items = append(items, domain.ProfileItem{
			Tag:        gjson.Get(raw, "tag").String(),
			Type:       gjson.Get(raw, "type").String(),
			Server:     gjson.Get(raw, "server").String(),
			ServerPort: int(gjson.Get(raw, "server_port").Int()),
			Raw:        raw,
		})
	}
	return items
}

// refreshProfiles replaces the profile mirror from the backend.
func (e *Engine) refreshProfiles(ctx context.Context) error {
	data, err := e.backend.GetProfiles(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.profiles = data
	e.mu.Unlock()
	return nil
}

// ActivateProfile selects the outbound the proxy selector targets, adopts
// the backend's response wholesale, and re-schedules an apply since the
// effective routing may have changed.
func (e *Engine) ActivateProfile(ctx context.Context, tag string) error {
	data, err := e.backend.SetActiveProfile(ctx, tag)
	if err != nil {
		classified := Classify(err.Error())
		return &classified
	}
	e.adoptProfiles(data)
	return nil
}

// RemoveOutbound deletes an outbound by tag and folds the backend's
// post-removal profile view back in.
func (e *Engine) RemoveOutbound(ctx context.Context, tag string) error {
	data, err := e.backend.RemoveOutbound(ctx, tag)
	if err != nil {
		classified := Classify(err.Error())
		return &classified
	}
	e.adoptProfiles(data)
	return nil
}

// ImportShareLinks imports share links. Per-link parse failures come back
// as warnings in the result; the call fails only when nothing imported.
func (e *Engine) ImportShareLinks(ctx context.Context, links []string) (domain.ImportResult, error) {
	return e.runImport(func() (domain.ImportResult, error) {
		return e.backend.ImportShareLinks(ctx, links)
	})
}

// ImportOutboundJSON imports a raw outbound JSON payload.
func (e *Engine) ImportOutboundJSON(ctx context.Context, payload string) (domain.ImportResult, error) {
	return e.runImport(func() (domain.ImportResult, error) {
		return e.backend.ImportOutboundJSON(ctx, payload)
	})
}

// runImport serializes imports behind the advisory busy flag and folds a
// successful result back into local state.
func (e *Engine) runImport(call func() (domain.ImportResult, error)) (domain.ImportResult, error) {
	e.mu.Lock()
	if e.importBusy {
		e.mu.Unlock()
		return domain.ImportResult{}, ErrImportBusy
	}
	e.importBusy = true
	e.mu.Unlock()

	result, err := call()

	e.mu.Lock()
	e.importBusy = false
	e.mu.Unlock()

	if err != nil {
		classified := Classify(err.Error())
		return domain.ImportResult{}, &classified
	}

	if len(result.Errors) > 0 {
		e.logger.Warn("import finished with warnings",
			zap.Int("added", result.Added),
			zap.Strings("warnings", result.Errors))
	}
	e.adoptProfiles(result.Profile)
	return result, nil
}

// adoptProfiles replaces the profile mirror wholesale (never a merge) and
// arms the apply scheduler. Routing can change without the (mode, rules)
// pair changing, so the applied snapshot is invalidated to let the
// scheduled apply through the signature check.
func (e *Engine) adoptProfiles(data domain.ProfileData) {
	e.mu.Lock()
	e.profiles = data
	e.lastAppliedMode = ""
	e.scheduleLocked()
	e.mu.Unlock()
}
