package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/callback"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/profile"
)

type fakeProfiles struct {
	mu        sync.Mutex
	available map[backend.AudioProfile]struct{}
	hasHFP    bool
	direction profile.Direction
	active    address.Addr
}

func (p *fakeProfiles) AvailableProfiles(ctx context.Context, addr address.Addr) map[backend.AudioProfile]struct{} {
	out := make(map[backend.AudioProfile]struct{}, len(p.available))
	for k := range p.available {
		out[k] = struct{}{}
	}
	return out
}
func (p *fakeProfiles) HasHFPEntry(addr address.Addr) bool { return p.hasHFP }
func (p *fakeProfiles) SetAVRCPDirection(d profile.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.direction = d
}
func (p *fakeProfiles) SetActiveDeviceKeys(addr address.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = addr
}

type callRecord struct {
	method string
	addr   address.Addr
}

type fakeA2DP struct {
	mu     sync.Mutex
	calls  []callRecord
	status backend.Status
}

func (f *fakeA2DP) record(method string, addr address.Addr) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{method, addr})
	if f.status == backend.StatusSuccess || f.status == 0 {
		return backend.StatusSuccess
	}
	return f.status
}
func (f *fakeA2DP) Enable(ctx context.Context) backend.Status  { return backend.StatusSuccess }
func (f *fakeA2DP) Disable(ctx context.Context) backend.Status { return backend.StatusSuccess }
func (f *fakeA2DP) IsEnabled() bool                             { return true }
func (f *fakeA2DP) Connect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Connect", addr)
}
func (f *fakeA2DP) Disconnect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Disconnect", addr)
}
func (f *fakeA2DP) SetActiveDevice(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("SetActiveDevice", addr)
}
func (f *fakeA2DP) SetAudioConfig(ctx context.Context, addr address.Addr, sampleRate, bitsPerSample int, channelMode string) backend.Status {
	return f.record("SetAudioConfig", addr)
}
func (f *fakeA2DP) StartAudioRequest(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("StartAudioRequest", addr)
}
func (f *fakeA2DP) StopAudioRequest(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("StopAudioRequest", addr)
}
func (f *fakeA2DP) GetPresentationPosition(ctx context.Context, addr address.Addr) (uint64, backend.Status) {
	return 0, backend.StatusSuccess
}
func (f *fakeA2DP) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

type fakeAVRCP struct {
	mu    sync.Mutex
	calls []callRecord
	volume int8
}

func (f *fakeAVRCP) record(method string, addr address.Addr) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{method, addr})
	return backend.StatusSuccess
}
func (f *fakeAVRCP) Enable(ctx context.Context) backend.Status  { return backend.StatusSuccess }
func (f *fakeAVRCP) Disable(ctx context.Context) backend.Status { return backend.StatusSuccess }
func (f *fakeAVRCP) Connect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Connect", addr)
}
func (f *fakeAVRCP) Disconnect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Disconnect", addr)
}
func (f *fakeAVRCP) SetVolume(ctx context.Context, v int8) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
	return backend.StatusSuccess
}
func (f *fakeAVRCP) SetPlaybackStatus(ctx context.Context, playing bool) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeAVRCP) SetPlaybackPosition(ctx context.Context, positionMs uint32) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeAVRCP) SetMetadata(ctx context.Context, title, artist, album string, durationMs uint32) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeAVRCP) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

type fakeHFP struct {
	mu    sync.Mutex
	calls []callRecord
	volume int8
}

func (f *fakeHFP) record(method string, addr address.Addr) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{method, addr})
	return backend.StatusSuccess
}
func (f *fakeHFP) Enable(ctx context.Context) backend.Status  { return backend.StatusSuccess }
func (f *fakeHFP) Disable(ctx context.Context) backend.Status { return backend.StatusSuccess }
func (f *fakeHFP) Connect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Connect", addr)
}
func (f *fakeHFP) Disconnect(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("Disconnect", addr)
}
func (f *fakeHFP) ConnectAudio(ctx context.Context, addr address.Addr, scoOffload, forceCVSD bool) backend.Status {
	return f.record("ConnectAudio", addr)
}
func (f *fakeHFP) DisconnectAudio(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("DisconnectAudio", addr)
}
func (f *fakeHFP) SetActiveDevice(ctx context.Context, addr address.Addr) backend.Status {
	return f.record("SetActiveDevice", addr)
}
func (f *fakeHFP) SetVolume(ctx context.Context, v int8, addr address.Addr) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
	return backend.StatusSuccess
}
func (f *fakeHFP) IndicatorQueryResponse(ctx context.Context, addr address.Addr, status backend.DeviceStatus, phone backend.PhoneState) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFP) CurrentCallsQueryResponse(ctx context.Context, addr address.Addr, calls []backend.Call) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFP) SimpleATResponse(ctx context.Context, addr address.Addr, ok bool) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFP) DeviceStatusNotification(ctx context.Context, addr address.Addr, status backend.DeviceStatus) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFP) PhoneStateChange(ctx context.Context, addr address.Addr, phone backend.PhoneState, number string) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFP) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

// fakeInfo supplies the added-device payload the lifecycle engine builds
// when a test drives a device to FullyConnected.
type fakeInfo struct{}

func (fakeInfo) BuildAddedPayload(addr address.Addr) callback.DeviceAdded {
	return callback.DeviceAdded{Addr: addr}
}

func newTestFacade(available map[backend.AudioProfile]struct{}) (*Facade, *fakeA2DP, *fakeAVRCP, *fakeHFP, *lifecycle.Engine, *fakeProfiles) {
	return newTestFacadeWithSink(available, metrics.NoopSink{})
}

func newTestFacadeWithSink(available map[backend.AudioProfile]struct{}, sink metrics.Sink) (*Facade, *fakeA2DP, *fakeAVRCP, *fakeHFP, *lifecycle.Engine, *fakeProfiles) {
	dispatcher := bus.NewDispatcher(bus.New(8))
	callbacks := callback.New()
	engine := lifecycle.New(nil, 6*time.Second, 10*time.Second, dispatcher, callbacks, metrics.NoopSink{}, fakeInfo{})
	profiles := &fakeProfiles{available: available}
	a2dp := &fakeA2DP{}
	avrcp := &fakeAVRCP{}
	hfp := &fakeHFP{}
	facade := New(Deps{
		Engine:   engine,
		Profiles: profiles,
		A2DP:     a2dp,
		AVRCP:    avrcp,
		HFP:      hfp,
		Metrics:  sink,
	})
	return facade, a2dp, avrcp, hfp, engine, profiles
}

// Connecting a device with A2DP missing must not issue a standalone AVRCP
// connect: the native A2DP connect resolves AVRCP along with it.
func TestConnect_AVRCPPiggybacksOnA2DP(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{
		backend.ProfileA2dpSink:        {},
		backend.ProfileAvrcpController: {},
	}
	facade, a2dp, avrcp, _, _, _ := newTestFacade(available)
	addr := address.MustParse("AA:BB:CC:DD:EE:01")

	facade.Connect(context.Background(), addr)

	assert.Equal(t, 1, a2dp.callCount("Connect"))
	assert.Equal(t, 0, avrcp.callCount("Connect"), "AVRCP connect must not fire while A2DP is also missing")
}

// Once A2DP is already connected, a missing AVRCP is requested directly.
func TestConnect_AVRCPConnectsDirectlyWhenA2DPAlreadyUp(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{
		backend.ProfileA2dpSink:        {},
		backend.ProfileAvrcpController: {},
	}
	facade, a2dp, avrcp, _, engine, _ := newTestFacade(available)
	addr := address.MustParse("AA:BB:CC:DD:EE:02")
	engine.AddProfile(addr, backend.ProfileA2dpSink, available)

	facade.Connect(context.Background(), addr)

	assert.Equal(t, 0, a2dp.callCount("Connect"), "A2DP already connected, no reconnect")
	assert.Equal(t, 1, avrcp.callCount("Connect"))
}

func TestConnect_HFPRequestedWhenMissing(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{
		backend.ProfileA2dpSink: {},
		backend.ProfileHfp:      {},
	}
	facade, _, _, hfp, _, _ := newTestFacade(available)
	addr := address.MustParse("AA:BB:CC:DD:EE:03")

	facade.Connect(context.Background(), addr)

	assert.Equal(t, 1, hfp.callCount("Connect"))
}

// Disconnect must skip A2DP while HFP is still connected (the documented
// headset quirk), and must skip AVRCP while A2DP is still connected.
func TestDisconnect_SkipsA2DPWhileHFPConnected(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{}
	facade, a2dp, _, hfp, engine, _ := newTestFacade(available)
	addr := address.MustParse("AA:BB:CC:DD:EE:04")
	engine.AddProfile(addr, backend.ProfileA2dpSink, map[backend.AudioProfile]struct{}{backend.ProfileA2dpSink: {}})
	engine.AddProfile(addr, backend.ProfileHfp, map[backend.AudioProfile]struct{}{backend.ProfileA2dpSink: {}, backend.ProfileHfp: {}})

	facade.Disconnect(context.Background(), addr)

	assert.Equal(t, 0, a2dp.callCount("Disconnect"))
	assert.Equal(t, 1, hfp.callCount("Disconnect"))
}

func TestDisconnect_SkipsAVRCPWhileA2DPConnected(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{}
	facade, a2dp, avrcp, _, engine, _ := newTestFacade(available)
	addr := address.MustParse("AA:BB:CC:DD:EE:05")
	engine.AddProfile(addr, backend.ProfileA2dpSink, map[backend.AudioProfile]struct{}{})
	engine.AddProfile(addr, backend.ProfileAvrcpController, map[backend.AudioProfile]struct{}{})

	facade.Disconnect(context.Background(), addr)

	assert.Equal(t, 1, a2dp.callCount("Disconnect"))
	assert.Equal(t, 0, avrcp.callCount("Disconnect"))
}

func TestDisconnect_NoOpWhenNothingConnected(t *testing.T) {
	facade, a2dp, avrcp, hfp, _, _ := newTestFacade(map[backend.AudioProfile]struct{}{})
	addr := address.MustParse("AA:BB:CC:DD:EE:06")

	facade.Disconnect(context.Background(), addr)

	assert.Equal(t, 0, a2dp.callCount("Disconnect"))
	assert.Equal(t, 0, avrcp.callCount("Disconnect"))
	assert.Equal(t, 0, hfp.callCount("Disconnect"))
}

// SetVolume accepts only the 0-127 AVRCP absolute-volume range (P6);
// anything outside it must be dropped, never forwarded downward.
func TestSetVolume_DropsOutOfRange(t *testing.T) {
	facade, _, avrcp, _, _, _ := newTestFacade(nil)

	facade.SetVolume(context.Background(), 64)
	require.Equal(t, int8(64), avrcp.volume)

	facade.SetVolume(context.Background(), 255)
	assert.Equal(t, int8(64), avrcp.volume, "out-of-range volume must be dropped, not forwarded")

	facade.SetVolume(context.Background(), -1)
	assert.Equal(t, int8(64), avrcp.volume)
}

func TestSetHFPVolume_RefusesUnknownDevice(t *testing.T) {
	facade, _, _, hfp, _, profiles := newTestFacade(nil)
	addr := address.MustParse("AA:BB:CC:DD:EE:07")
	profiles.hasHFP = false

	facade.SetHFPVolume(context.Background(), 10, addr)
	assert.Equal(t, 0, hfp.callCount("SetVolume"))

	profiles.hasHFP = true
	facade.SetHFPVolume(context.Background(), 10, addr)
	assert.Equal(t, int8(10), hfp.volume)
}

// A backend reporting StatusNotReady on connect/disconnect must be emitted
// as a distinct StateNotReady metrics event, not lumped in with a generic
// StateDisconnected failure.
func TestConnectProfile_NotReadyBackendEmitsStateNotReady(t *testing.T) {
	available := map[backend.AudioProfile]struct{}{backend.ProfileA2dpSink: {}}
	sink := metrics.NewChannelSink(8)
	facade, a2dp, _, _, _, _ := newTestFacadeWithSink(available, sink)
	a2dp.status = backend.StatusNotReady
	addr := address.MustParse("AA:BB:CC:DD:EE:09")

	facade.Connect(context.Background(), addr)

	var sawNotReady bool
	for i := 0; i < 2; i++ {
		select {
		case e := <-sink.Events():
			if e.State == metrics.StateNotReady {
				sawNotReady = true
			}
		default:
		}
	}
	assert.True(t, sawNotReady, "connect against a not-ready backend must emit StateNotReady")
}

func TestDisconnectProfile_NotReadyBackendEmitsStateNotReady(t *testing.T) {
	sink := metrics.NewChannelSink(8)
	facade, a2dp, _, _, engine, _ := newTestFacadeWithSink(map[backend.AudioProfile]struct{}{}, sink)
	addr := address.MustParse("AA:BB:CC:DD:EE:0A")
	engine.AddProfile(addr, backend.ProfileA2dpSink, map[backend.AudioProfile]struct{}{})
	a2dp.status = backend.StatusNotReady

	facade.Disconnect(context.Background(), addr)

	var sawNotReady bool
	for i := 0; i < 2; i++ {
		select {
		case e := <-sink.Events():
			if e.State == metrics.StateNotReady {
				sawNotReady = true
			}
		default:
		}
	}
	assert.True(t, sawNotReady, "disconnect against a not-ready backend must emit StateNotReady")
}

func TestSetHFPVolume_DropsOutOfRange(t *testing.T) {
	facade, _, _, hfp, _, profiles := newTestFacade(nil)
	profiles.hasHFP = true
	addr := address.MustParse("AA:BB:CC:DD:EE:08")

	facade.SetHFPVolume(context.Background(), 16, addr)
	assert.Equal(t, 0, hfp.callCount("SetVolume"))

	facade.SetHFPVolume(context.Background(), 15, addr)
	assert.Equal(t, int8(15), hfp.volume)
}
