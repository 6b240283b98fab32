package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// TestEngine_ActivateProfile_SchedulesApply verifies that selecting an
// outbound replaces the mirror and forces the next apply through.
func TestEngine_ActivateProfile_SchedulesApply(t *testing.T) {
	backend := newMockBackend()
	backend.profiles = domain.ProfileData{
		Outbounds: []string{`{"type":"vless","tag":"home","server":"example.com","server_port":443}`},
	}
	e := startedEngine(t, backend)
	baseline := len(backend.calls())

	require.NoError(t, e.ActivateProfile(context.Background(), "home"))

	assert.Equal(t, "home", e.Profiles().ActiveTag)
	// The (mode, rules) pair is unchanged, yet the apply still fires.
	eventually(t, func() bool { return len(backend.calls()) == baseline+1 }, "activation never re-applied")
}

// TestEngine_ActivateProfile_ClassifiesError verifies that backend wire
// errors surface classified.
func TestEngine_ActivateProfile_ClassifiesError(t *testing.T) {
	backend := newMockBackend()
	backend.activeErr = &stringError{s: "PROFILE_INVALID|bad json"}
	e := startedEngine(t, backend)

	err := e.ActivateProfile(context.Background(), "home")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindProfileInvalid, berr.Kind)
}

// TestEngine_ImportShareLinks_AdoptsResult verifies a successful import
// replaces the mirror wholesale and reports warnings through untouched.
func TestEngine_ImportShareLinks_AdoptsResult(t *testing.T) {
	backend := newMockBackend()
	backend.importResult = domain.ImportResult{
		Profile: domain.ProfileData{
			Outbounds: []string{`{"type":"trojan","tag":"new","server":"h.example","server_port":8443}`},
			ActiveTag: "new",
		},
		Added:  1,
		Errors: []string{"vmess://garbage: not base64"},
	}
	e := startedEngine(t, backend)

	result, err := e.ImportShareLinks(context.Background(), []string{"trojan://ok", "vmess://garbage"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Len(t, result.Errors, 1)

	items := e.ProfileItems()
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Tag)
	assert.Equal(t, "trojan", items[0].Type)
	assert.Equal(t, "h.example", items[0].Server)
	assert.Equal(t, 8443, items[0].ServerPort)
}

// TestEngine_Import_BusyRejected verifies the advisory import gate.
func TestEngine_Import_BusyRejected(t *testing.T) {
	backend := newMockBackend()
	e := startedEngine(t, backend)

	e.mu.Lock()
	e.importBusy = true
	e.mu.Unlock()

	_, err := e.ImportOutboundJSON(context.Background(), `{"type":"direct"}`)
	assert.ErrorIs(t, err, ErrImportBusy)

	e.mu.Lock()
	e.importBusy = false
	e.mu.Unlock()
}

// TestEngine_Import_ErrorClassified verifies that a failed import comes
// back classified and leaves the mirror untouched.
func TestEngine_Import_ErrorClassified(t *testing.T) {
	backend := newMockBackend()
	backend.importErr = &stringError{s: "IMPORT_INVALID|invalid JSON"}
	e := startedEngine(t, backend)

	_, err := e.ImportOutboundJSON(context.Background(), "not json")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindGeneric, berr.Kind)
	assert.Empty(t, e.Profiles().Outbounds)

	// The gate is released for the next attempt.
	e.mu.Lock()
	busy := e.importBusy
	e.mu.Unlock()
	assert.False(t, busy)
}
