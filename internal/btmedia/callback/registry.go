// Package callback implements the upward callback registry (C6): it holds
// whatever listener the host RPC surface has registered and broadcasts to
// it, tolerating the listener going away without propagating an error back
// into the event loop that triggered the broadcast.
package callback

import (
	"sync"

	"github.com/btmedia/coordinator/internal/btmedia/address"
)

// DeviceAdded is the payload of on_bluetooth_audio_device_added.
type DeviceAdded struct {
	Addr           address.Addr
	Name           string
	A2DPCodecCaps  []string
	HFPCodecCap    uint8 // bitflags: CVSD=1, mSBC=2
	AbsoluteVolume bool
}

// Listener is the upward callback interface (§6). A single registered
// listener may implement all of it; the registry does not require it to.
type Listener interface {
	OnBluetoothAudioDeviceAdded(d DeviceAdded)
	OnBluetoothAudioDeviceRemoved(addr address.Addr)
	OnAbsoluteVolumeSupportedChanged(supported bool)
	OnAbsoluteVolumeChanged(volume uint8)
	OnHFPVolumeChanged(volume uint8, addr address.Addr)
	OnHFPAudioDisconnected(addr address.Addr)
}

// Registry holds zero or one registered listener (mirroring the native
// RPC surface's single-upward-client model) plus the id it was registered
// under, so a stale Unregister for a listener that has since been replaced
// leaves the newer listener in place.
type Registry struct {
	mu       sync.RWMutex
	listener Listener
	id       string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register installs listener under id, replacing whatever was registered
// before.
func (r *Registry) Register(id string, listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.listener = listener
}

// Unregister removes the listener if id still matches the one installed.
// A stale Unregister (for a listener that has already been replaced) is a
// no-op, not an error.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == id {
		r.listener = nil
		r.id = ""
	}
}

func (r *Registry) current() Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listener
}

// BroadcastDeviceAdded fires at most once per connection session; callers
// (the lifecycle engine) are responsible for that bracketing.
func (r *Registry) BroadcastDeviceAdded(d DeviceAdded) {
	if l := r.current(); l != nil {
		l.OnBluetoothAudioDeviceAdded(d)
	}
}

func (r *Registry) BroadcastDeviceRemoved(addr address.Addr) {
	if l := r.current(); l != nil {
		l.OnBluetoothAudioDeviceRemoved(addr)
	}
}

func (r *Registry) BroadcastAbsoluteVolumeSupportedChanged(supported bool) {
	if l := r.current(); l != nil {
		l.OnAbsoluteVolumeSupportedChanged(supported)
	}
}

func (r *Registry) BroadcastAbsoluteVolumeChanged(volume uint8) {
	if l := r.current(); l != nil {
		l.OnAbsoluteVolumeChanged(volume)
	}
}

func (r *Registry) BroadcastHFPVolumeChanged(volume uint8, addr address.Addr) {
	if l := r.current(); l != nil {
		l.OnHFPVolumeChanged(volume, addr)
	}
}

func (r *Registry) BroadcastHFPAudioDisconnected(addr address.Addr) {
	if l := r.current(); l != nil {
		l.OnHFPAudioDisconnected(addr)
	}
}
