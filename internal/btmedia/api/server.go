// Package api implements the coordinator's read-only debug/status HTTP
// surface: device lifecycle state, connected-profile tables, and the
// current phone-call state, for operators to poll without a Bluetooth
// stack in hand.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/telephony"
)

// DeviceProvider supplies the per-device lifecycle/connection snapshot.
// Implemented by *lifecycle.Engine.
type DeviceProvider interface {
	State(addr address.Addr) (lifecycle.State, bool)
	ConnectedProfiles(addr address.Addr) map[backend.AudioProfile]struct{}
	ForEachDevice(fn func(addr address.Addr, state lifecycle.State))
}

// TelephonyProvider supplies the current call-state snapshot. Implemented
// by *telephony.Engine.
type TelephonyProvider interface {
	PhoneState() backend.PhoneState
	CallList() []backend.Call
	OpsEnabled() bool
}

// Server serves the read-only status API.
type Server struct {
	addr       string
	httpServer *http.Server
	devices    DeviceProvider
	phone      TelephonyProvider
	startTime  time.Time
	log        *slog.Logger
}

// NewServer builds a Server bound to addr; call Start to begin serving.
func NewServer(addr string, devices DeviceProvider, phone TelephonyProvider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:      addr,
		devices:   devices,
		phone:     phone,
		startTime: time.Now(),
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start begins serving in the background. Errors after startup are logged,
// not returned: the debug API is never allowed to take down the daemon.
func (s *Server) Start() error {
	s.log.Info("[api] starting debug API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("[api] server error", "err", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to the given context's deadline
// for in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

type deviceView struct {
	Addr     string   `json:"addr"`
	State    string   `json:"state"`
	Profiles []string `json:"connected_profiles"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var devices []deviceView
	s.devices.ForEachDevice(func(addr address.Addr, state lifecycle.State) {
		connected := s.devices.ConnectedProfiles(addr)
		profiles := make([]string, 0, len(connected))
		for p := range connected {
			profiles = append(profiles, p.String())
		}
		devices = append(devices, deviceView{
			Addr:     addr.String(),
			State:    state.String(),
			Profiles: profiles,
		})
	})

	s.writeJSON(w, map[string]any{"devices": devices})
}

type callView struct {
	Index       int    `json:"index"`
	DirIncoming bool   `json:"dir_incoming"`
	State       string `json:"state"`
	Number      string `json:"number"`
}

func callStateString(st backend.CallState) string {
	switch st {
	case backend.CallActive:
		return "active"
	case backend.CallHeld:
		return "held"
	case backend.CallDialing:
		return "dialing"
	case backend.CallAlerting:
		return "alerting"
	case backend.CallIncoming:
		return "incoming"
	case backend.CallWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

func phoneCallStateString(st backend.PhoneCallState) string {
	switch st {
	case backend.PhoneIdle:
		return "idle"
	case backend.PhoneIncoming:
		return "incoming"
	case backend.PhoneDialing:
		return "dialing"
	case backend.PhoneAlerting:
		return "alerting"
	default:
		return "unknown"
	}
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	phone := s.phone.PhoneState()
	list := s.phone.CallList()
	calls := make([]callView, 0, len(list))
	for _, c := range list {
		calls = append(calls, callView{
			Index:       c.Index,
			DirIncoming: c.DirIncoming,
			State:       callStateString(c.State),
			Number:      c.Number,
		})
	}

	s.writeJSON(w, map[string]any{
		"phone_ops_enabled": s.phone.OpsEnabled(),
		"num_active":        phone.NumActive,
		"num_held":          phone.NumHeld,
		"call_state":        phoneCallStateString(phone.CallState),
		"calls":             calls,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("[api] failed to encode JSON", "err", err)
	}
}

var (
	_ TelephonyProvider = (*telephony.Engine)(nil)
	_ DeviceProvider    = (*lifecycle.Engine)(nil)
)
