package ancillary

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/btmedia/coordinator/internal/btmedia/address"
)

const (
	batteryProviderManagerIface = "org.bluez.BatteryProviderManager1"
	batteryProviderPath         = "/org/btmedia/battery_provider"
)

// BatteryProvider implements backend.BatteryProvider by pushing a
// percentage onto BlueZ's battery provider manager for the matching
// device, the same D-Bus surface the adapter's own HFP/AT battery
// indicator path feeds.
type BatteryProvider struct {
	conn        *dbus.Conn
	adapterName string
	log         *slog.Logger
}

// NewBatteryProvider reuses conn rather than opening a second bus
// connection; callers typically share the Adapter's connection.
func NewBatteryProvider(conn *dbus.Conn, adapterName string, log *slog.Logger) *BatteryProvider {
	if log == nil {
		log = slog.Default()
	}
	if adapterName == "" {
		adapterName = "hci0"
	}
	return &BatteryProvider{conn: conn, adapterName: adapterName, log: log}
}

// SetBatteryLevel implements backend.BatteryProvider. percent is 0-100;
// callers (internal/btmedia/profile) are responsible for the 0-5 to
// percentage conversion since BlueZ's provider API is percentage-based.
func (b *BatteryProvider) SetBatteryLevel(addr address.Addr, percent int) {
	if percent < 0 || percent > 100 {
		b.log.Warn("[ancillary] ignoring out-of-range battery percent", "addr", addr.String(), "percent", percent)
		return
	}
	adapterPath := dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s", b.adapterName))
	obj := b.conn.Object(busName, adapterPath)

	props := map[string]dbus.Variant{
		"Source":     dbus.MakeVariant("HFP"),
		"Device":     dbus.MakeVariant(b.devicePath(addr)),
		"Percentage": dbus.MakeVariant(uint8(percent)),
	}
	call := obj.Call(batteryProviderManagerIface+".SetBatteryInfo", 0, batteryProviderPath, props)
	if call.Err != nil {
		b.log.Warn("[ancillary] SetBatteryInfo failed", "addr", addr.String(), "err", call.Err)
	}
}

func (b *BatteryProvider) devicePath(addr address.Addr) dbus.ObjectPath {
	a := &Adapter{adapterName: b.adapterName}
	return a.devicePath(addr)
}
