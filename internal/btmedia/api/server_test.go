package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
)

type fakeDevices struct {
	entries map[address.Addr]lifecycle.State
	profiles map[address.Addr]map[backend.AudioProfile]struct{}
}

func (f *fakeDevices) State(addr address.Addr) (lifecycle.State, bool) {
	s, ok := f.entries[addr]
	return s, ok
}
func (f *fakeDevices) ConnectedProfiles(addr address.Addr) map[backend.AudioProfile]struct{} {
	return f.profiles[addr]
}
func (f *fakeDevices) ForEachDevice(fn func(addr address.Addr, state lifecycle.State)) {
	for addr, s := range f.entries {
		fn(addr, s)
	}
}

type fakeTelephony struct {
	phone backend.PhoneState
	calls []backend.Call
	ops   bool
}

func (f *fakeTelephony) PhoneState() backend.PhoneState { return f.phone }
func (f *fakeTelephony) CallList() []backend.Call       { return f.calls }
func (f *fakeTelephony) OpsEnabled() bool               { return f.ops }

func TestHandleHealth(t *testing.T) {
	s := NewServer("", &fakeDevices{}, &fakeTelephony{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleDevices(t *testing.T) {
	addr := address.MustParse("AA:BB:CC:DD:EE:01")
	devices := &fakeDevices{
		entries: map[address.Addr]lifecycle.State{addr: lifecycle.FullyConnected},
		profiles: map[address.Addr]map[backend.AudioProfile]struct{}{
			addr: {backend.ProfileA2dpSink: {}},
		},
	}
	s := NewServer("", devices, &fakeTelephony{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	s.handleDevices(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Devices []deviceView `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Devices, 1)
	assert.Equal(t, addr.String(), body.Devices[0].Addr)
	assert.Equal(t, "FullyConnected", body.Devices[0].State)
	assert.Equal(t, []string{"A2dpSink"}, body.Devices[0].Profiles)
}

func TestHandleDevices_RejectsNonGet(t *testing.T) {
	s := NewServer("", &fakeDevices{}, &fakeTelephony{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	s.handleDevices(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCalls(t *testing.T) {
	tel := &fakeTelephony{
		phone: backend.PhoneState{NumActive: 1, NumHeld: 1, CallState: backend.PhoneIdle},
		calls: []backend.Call{{Index: 1, DirIncoming: true, State: backend.CallActive, Number: "+1"}},
		ops:   true,
	}
	s := NewServer("", &fakeDevices{}, tel, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	rec := httptest.NewRecorder()
	s.handleCalls(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		PhoneOpsEnabled bool       `json:"phone_ops_enabled"`
		NumActive       int        `json:"num_active"`
		NumHeld         int        `json:"num_held"`
		CallState       string     `json:"call_state"`
		Calls           []callView `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.PhoneOpsEnabled)
	assert.Equal(t, 1, body.NumActive)
	assert.Equal(t, 1, body.NumHeld)
	assert.Equal(t, "idle", body.CallState)
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "active", body.Calls[0].State)
	assert.Equal(t, "+1", body.Calls[0].Number)
}
