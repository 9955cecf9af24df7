// Package ancillary implements the host-side collaborators the coordinator
// depends on through backend interfaces but does not itself define the
// wire protocol for: the BlueZ adapter query surface over D-Bus, the
// uinput AVRCP media-key injector, and the battery-level push path.
package ancillary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/btmedia/coordinator/internal/btmedia/address"
)

const (
	busName          = "org.bluez"
	deviceIface      = "org.bluez.Device1"
	batteryIface     = "org.bluez.Battery1"
	propertiesIface  = "org.freedesktop.DBus.Properties"
)

// Adapter implements backend.Adapter over the BlueZ D-Bus API: remote
// device name and advertised service UUIDs are both Device1 properties.
type Adapter struct {
	conn        *dbus.Conn
	adapterName string // e.g. "hci0"
	log         *slog.Logger
}

// NewAdapter connects to the system bus and returns an Adapter scoped to
// adapterName (the BlueZ adapter id, e.g. "hci0").
func NewAdapter(adapterName string, log *slog.Logger) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("ancillary: connect system bus: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	if adapterName == "" {
		adapterName = "hci0"
	}
	return &Adapter{conn: conn, adapterName: adapterName, log: log}, nil
}

// Close closes the underlying D-Bus connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Conn returns the underlying D-Bus connection, so other ancillary
// collaborators (BatteryProvider) can share it instead of opening a
// second system-bus connection.
func (a *Adapter) Conn() *dbus.Conn {
	return a.conn
}

func (a *Adapter) devicePath(addr address.Addr) dbus.ObjectPath {
	devID := strings.ReplaceAll(addr.String(), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", a.adapterName, devID))
}

func (a *Adapter) deviceProperty(ctx context.Context, addr address.Addr, prop string) (dbus.Variant, error) {
	obj := a.conn.Object(busName, a.devicePath(addr))
	var v dbus.Variant
	err := obj.CallWithContext(ctx, propertiesIface+".Get", 0, deviceIface, prop).Store(&v)
	return v, err
}

// GetRemoteName implements backend.Adapter.
func (a *Adapter) GetRemoteName(ctx context.Context, addr address.Addr) (string, error) {
	v, err := a.deviceProperty(ctx, addr, "Name")
	if err != nil {
		return "", fmt.Errorf("ancillary: get Name for %s: %w", addr, err)
	}
	name, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("ancillary: Name property for %s was not a string", addr)
	}
	return name, nil
}

// GetRemoteUUIDs implements backend.Adapter.
func (a *Adapter) GetRemoteUUIDs(ctx context.Context, addr address.Addr) ([]string, error) {
	v, err := a.deviceProperty(ctx, addr, "UUIDs")
	if err != nil {
		return nil, fmt.Errorf("ancillary: get UUIDs for %s: %w", addr, err)
	}
	uuids, ok := v.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("ancillary: UUIDs property for %s was not a string array", addr)
	}
	return uuids, nil
}
