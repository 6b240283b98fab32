package backend

import (
	"encoding/json"
	"os"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// profileState persists which outbound the user selected as active.
type profileState struct {
	ActiveTag string `json:"activeTag,omitempty"`
}

// loadSavedState reads the persisted desired state. Missing or unreadable
// files fall back to defaults (off, no rules) rather than failing startup.
func (b *Backend) loadSavedState() domain.SavedState {
	state := domain.SavedState{LastMode: domain.ModeOff}
	raw, err := os.ReadFile(b.appStatePath())
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.SavedState{LastMode: domain.ModeOff}
	}
	if !state.LastMode.Valid() {
		state.LastMode = domain.ModeOff
	}
	return state
}

// saveSavedState persists the desired state before any apply attempt.
func (b *Backend) saveSavedState(state domain.SavedState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errf(CodeStateInvalid, "%v", err)
	}
	if err := os.WriteFile(b.appStatePath(), raw, 0o644); err != nil {
		return errf(CodeStateInvalid, "%v", err)
	}
	return nil
}

// loadProfileState reads the active-tag record, defaulting to none.
func (b *Backend) loadProfileState() profileState {
	var state profileState
	raw, err := os.ReadFile(b.profileStatePath())
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return profileState{}
	}
	return state
}

// saveProfileState persists the active-tag record.
func (b *Backend) saveProfileState(state profileState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errf(CodeProfileInvalid, "%v", err)
	}
	if err := os.WriteFile(b.profileStatePath(), raw, 0o644); err != nil {
		return errf(CodeProfileInvalid, "%v", err)
	}
	return nil
}
