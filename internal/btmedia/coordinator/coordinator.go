// Package coordinator wires every other internal/btmedia package together
// and owns the single-threaded event loop (§4.1) that drains the bus and
// dispatches each message to the right handler. This is the daemon's
// top-level object, analogous to the teacher's SwitchBoard.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/btmedia/coordinator/internal/btmedia/api"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/callback"
	"github.com/btmedia/coordinator/internal/btmedia/config"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/media"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/profile"
	"github.com/btmedia/coordinator/internal/btmedia/telephony"
)

// Backends bundles the native profile stacks and host-side collaborators
// the coordinator never implements itself (see internal/btmedia/backend).
// A real daemon hands in cgo-backed implementations; tests hand in fakes.
type Backends struct {
	A2DP    backend.A2DP
	AVRCP   backend.AVRCP
	HFP     backend.HFP
	Adapter backend.Adapter
	Keys    backend.KeyInjector
	Battery backend.BatteryProvider
}

// Coordinator is the daemon's top-level object: it owns the bus, every
// subsystem, and the event loop goroutine.
type Coordinator struct {
	cfg *config.Config
	log *slog.Logger

	bus        *bus.Bus
	dispatcher *bus.Dispatcher
	callbacks  *callback.Registry

	engine    *lifecycle.Engine
	telephony *telephony.Engine
	profiles  *profile.Handlers
	media     *media.Facade

	apiServer *api.Server

	backends Backends
}

// New builds every subsystem in dependency order and returns a Coordinator
// ready for Run. cfg and backends must be non-nil; metricsOut may be nil
// (a no-op sink is used).
func New(cfg *config.Config, backends Backends, metricsOut metrics.Sink, log *slog.Logger) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	if metricsOut == nil {
		metricsOut = metrics.NoopSink{}
	}
	if backends.Adapter == nil {
		return nil, fmt.Errorf("coordinator: Backends.Adapter is required")
	}

	b := bus.New(cfg.BusBufferSize)
	dispatcher := bus.NewDispatcher(b)
	callbacks := callback.New()

	c := &Coordinator{
		cfg:        cfg,
		log:        log,
		bus:        b,
		dispatcher: dispatcher,
		callbacks:  callbacks,
		backends:   backends,
	}

	// Three packages form a dependency ring: the lifecycle engine needs a
	// DeviceInfoProvider (implemented by profile.Handlers), profile.Handlers
	// needs a *telephony.Engine and a Disconnector (implemented by
	// media.Facade), and media.Facade needs profile.Handlers back for its
	// Profiles dependency. None of the three can be built with every
	// dependency supplied up front, so each is built with the
	// not-yet-available one left nil and patched in via a setter once its
	// counterpart exists.
	engine := lifecycle.New(nil, cfg.InitiatorGrace, cfg.ProfileDiscoveryTimeout, dispatcher, callbacks, metricsOut, nil)
	c.engine = engine

	profiles := profile.New(profile.Deps{
		Engine:    engine,
		Telephony: nil,
		Callbacks: callbacks,
		Metrics:   metricsOut,
		Adapter:   backends.Adapter,
		Keys:      backends.Keys,
		Battery:   backends.Battery,
		HFP:       backends.HFP,
		Logger:    log,
	})
	engine.SetInfoProvider(profiles)
	c.profiles = profiles

	tel := telephony.New(cfg.PhoneOpsEnabled, profiles, profiles.AnySLCConnected)
	profiles.SetTelephony(tel)
	c.telephony = tel

	mediaFacade := media.New(media.Deps{
		Engine:   engine,
		Profiles: profiles,
		A2DP:     backends.A2DP,
		AVRCP:    backends.AVRCP,
		HFP:      backends.HFP,
		Metrics:  metricsOut,
		Logger:   log,
	})
	profiles.SetDisconnector(mediaFacade)
	c.media = mediaFacade

	if cfg.DebugAPIAddr != "" {
		c.apiServer = api.NewServer(cfg.DebugAPIAddr, engine, tel, log)
	}

	return c, nil
}

// Dispatcher exposes the bus dispatcher so the native profile stacks (built
// and owned outside this package) can post events onto the coordinator's
// bus.
func (c *Coordinator) Dispatcher() *bus.Dispatcher {
	return c.dispatcher
}

// RegisterListener installs an upward callback listener and returns a
// freshly minted id for later Unregister/CallbackDisconnect use.
func (c *Coordinator) RegisterListener(l callback.Listener) string {
	id := uuid.NewString()
	c.callbacks.Register(id, l)
	return id
}

// Run drains the bus until ctx is cancelled, dispatching every message to
// its handler. This must run on its own goroutine; every subsystem it
// touches assumes a single caller.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.bus.Messages():
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg bus.Message) {
	switch {
	case msg.A2DP != nil:
		c.profiles.HandleA2DP(ctx, *msg.A2DP)
	case msg.AVRCP != nil:
		c.profiles.HandleAVRCP(ctx, *msg.AVRCP)
	case msg.HFP != nil:
		c.profiles.HandleHFP(ctx, *msg.HFP)
	case msg.MediaAction != nil:
		c.handleMediaAction(ctx, *msg.MediaAction)
	case msg.CallbackDisconnect != nil:
		c.callbacks.Unregister(msg.CallbackDisconnect.ListenerID)
	}
}

func (c *Coordinator) handleMediaAction(ctx context.Context, a bus.MediaAction) {
	switch {
	case a.Connect != nil:
		c.media.Connect(ctx, a.Addr)
	case a.Disconnect != nil:
		c.media.Disconnect(ctx, a.Addr)
	}
}

// Start begins serving the debug API, if configured, then returns; callers
// still need to run Run on a goroutine of their own.
func (c *Coordinator) Start() error {
	if c.apiServer != nil {
		return c.apiServer.Start()
	}
	return nil
}

// Close tears down the debug API and the bus. Subsystems with no
// background goroutines of their own (profile, telephony, lifecycle) need
// no explicit teardown: their only asynchrony is the lifecycle engine's
// per-device timers, which self-cancel via pending_task once a device is
// erased.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.apiServer != nil {
		if err := c.apiServer.Stop(ctx); err != nil {
			c.log.Warn("[coordinator] debug API shutdown error", "err", err)
		}
	}
	c.bus.Close()
	return nil
}
