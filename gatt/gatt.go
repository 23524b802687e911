package gatt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kmw/bluewire/dbus"
)

// BlueZ bus surface.
const (
	Service = "org.bluez"

	deviceInterface         = "org.bluez.Device1"
	characteristicInterface = "org.bluez.GattCharacteristic1"
	adapterInterface        = "org.bluez.Adapter1"
	objectManagerInterface  = "org.freedesktop.DBus.ObjectManager"

	rootPath = dbus.ObjectPath("/")
)

// ErrConnectionRefused marks a device Connect rejected by the daemon, as
// opposed to a generic call failure. Callers use it to drive reconnect
// logic.
var ErrConnectionRefused = errors.New("connection refused")

// ErrNoAdapter is returned when the daemon exposes no Bluetooth adapter.
var ErrNoAdapter = errors.New("no bluetooth adapter")

// DevicePath derives the device object path BlueZ assigns to a MAC
// address under the given adapter, e.g. AA:BB:CC:DD:EE:FF under
// /org/bluez/hci0 becomes /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter dbus.ObjectPath, mac string) dbus.ObjectPath {
	frag := strings.ToUpper(strings.ReplaceAll(mac, ":", "_"))
	return adapter + dbus.ObjectPath("/dev_"+frag)
}

// MAC recovers the MAC address from a BlueZ device object path.
func MAC(path dbus.ObjectPath) (string, error) {
	seg := string(path)
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	if !strings.HasPrefix(seg, "dev_") {
		return "", fmt.Errorf("not a device path: %s", path)
	}
	mac := strings.ReplaceAll(seg[len("dev_"):], "_", ":")
	if len(mac) != 17 {
		return "", fmt.Errorf("not a device path: %s", path)
	}
	return mac, nil
}
