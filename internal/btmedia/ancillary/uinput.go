package ancillary

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/btmedia/coordinator/internal/btmedia/address"
)

// uinput ioctl numbers and event/key codes. golang.org/x/sys/unix does not
// expose these (they come from linux/uinput.h and linux/input-event-codes.h,
// not linux/ioctl.h), so they are declared here the way every uinput
// binding in the ecosystem does.
const (
	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiDevCreate = 0x5501
	uiDevDestroy = 0x5502

	evKey = 0x01
	evSyn = 0x00
	synReport = 0

	// AVRCP passthrough keys this daemon forwards, matching the wire
	// values the native AVRCP callback reports.
	KeyPlay      = 0xcf
	KeyPause     = 0xc9
	KeyNext      = 0xa3
	KeyPrevious  = 0xa5
	KeyStop      = 0xa6
	KeyVolumeUp   = 0x73
	KeyVolumeDown = 0x72
)

type uinputUserDev struct {
	Name       [80]byte
	ID         inputID
	EffectsMax uint32
	AbsMax     [64]int32
	AbsMin     [64]int32
	AbsFuzz    [64]int32
	AbsFlat    [64]int32
}

type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

var avrcpKeys = []uint16{KeyPlay, KeyPause, KeyNext, KeyPrevious, KeyStop, KeyVolumeUp, KeyVolumeDown}

// KeyInjector implements backend.KeyInjector: one virtual /dev/uinput
// keyboard device per connected AVRCP peer, forwarding AVRCP passthrough
// key events as standard Linux input events so any ordinary media-key
// listener on the host picks them up.
type KeyInjector struct {
	mu      sync.Mutex
	devices map[address.Addr]*os.File
	active  address.Addr
	haveActive bool
}

// NewKeyInjector returns an empty injector; devices are opened lazily by
// Create.
func NewKeyInjector() *KeyInjector {
	return &KeyInjector{devices: make(map[address.Addr]*os.File)}
}

// Create implements backend.KeyInjector.
func (k *KeyInjector) Create(ctx context.Context, remoteName string, addr address.Addr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.devices[addr]; ok {
		return nil
	}

	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("ancillary: open /dev/uinput: %w", err)
	}

	if err := ioctlSetInt(f, uiSetEvBit, evKey); err != nil {
		f.Close()
		return fmt.Errorf("ancillary: UI_SET_EVBIT EV_KEY: %w", err)
	}
	for _, key := range avrcpKeys {
		if err := ioctlSetInt(f, uiSetKeyBit, int(key)); err != nil {
			f.Close()
			return fmt.Errorf("ancillary: UI_SET_KEYBIT %#x: %w", key, err)
		}
	}

	dev := uinputUserDev{ID: inputID{BusType: 0x06 /* BUS_VIRTUAL */, Vendor: 0x1d6b, Product: 0x0101, Version: 1}}
	name := remoteName
	if name == "" {
		name = addr.String()
	}
	copy(dev.Name[:], fmt.Sprintf("btmedia-avrcp-%s", name))

	if _, err := f.Write((*(*[unsafe.Sizeof(dev)]byte)(unsafe.Pointer(&dev)))[:]); err != nil {
		f.Close()
		return fmt.Errorf("ancillary: write uinput_user_dev: %w", err)
	}
	if err := ioctlNoArg(f, uiDevCreate); err != nil {
		f.Close()
		return fmt.Errorf("ancillary: UI_DEV_CREATE: %w", err)
	}

	k.devices[addr] = f
	return nil
}

// Close implements backend.KeyInjector.
func (k *KeyInjector) Close(addr address.Addr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.devices[addr]
	if !ok {
		return
	}
	delete(k.devices, addr)
	_ = ioctlNoArg(f, uiDevDestroy)
	f.Close()
	if k.haveActive && k.active == addr {
		k.haveActive = false
	}
}

// SendKey implements backend.KeyInjector: emits a key event on the
// currently active device, followed by a SYN_REPORT.
func (k *KeyInjector) SendKey(key int, value bool) error {
	k.mu.Lock()
	f, ok := k.devices[k.active]
	active := k.haveActive
	k.mu.Unlock()
	if !active || !ok {
		return fmt.Errorf("ancillary: no active uinput device for key event")
	}

	v := int32(0)
	if value {
		v = 1
	}
	if err := writeEvent(f, evKey, uint16(key), v); err != nil {
		return err
	}
	return writeEvent(f, evSyn, synReport, 0)
}

// SetActiveDevice implements backend.KeyInjector.
func (k *KeyInjector) SetActiveDevice(addr address.Addr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = addr
	k.haveActive = true
}

func writeEvent(f *os.File, evType, code uint16, value int32) error {
	ev := inputEvent{Type: evType, Code: code, Value: value}
	_, err := f.Write((*(*[unsafe.Sizeof(ev)]byte)(unsafe.Pointer(&ev)))[:])
	return err
}

func ioctlSetInt(f *os.File, req uintptr, val int) error {
	return unix.IoctlSetInt(int(f.Fd()), uint(req), val)
}

func ioctlNoArg(f *os.File, req uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
