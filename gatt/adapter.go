package gatt

import (
	"context"
	"fmt"

	"github.com/kmw/bluewire/dbus"
)

// Adapter is one BlueZ adapter object (hciN).
type Adapter struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

// NewAdapter wraps the adapter object at path.
func NewAdapter(conn *dbus.Conn, path dbus.ObjectPath) *Adapter {
	return &Adapter{conn: conn, path: path}
}

// Path returns the adapter object path.
func (a *Adapter) Path() dbus.ObjectPath {
	return a.path
}

// DevicePath returns the object path of the device with the given MAC
// address under this adapter.
func (a *Adapter) DevicePath(mac string) dbus.ObjectPath {
	return DevicePath(a.path, mac)
}

// DiscoveryFilter narrows what StartDiscovery reports.
type DiscoveryFilter struct {
	// Transport is "le", "bredr" or "auto". Empty leaves the daemon
	// default in place.
	Transport string
	// UUIDs limits results to devices advertising one of these service
	// UUIDs.
	UUIDs []string
}

// SetDiscoveryFilter installs the discovery filter on the adapter.
func (a *Adapter) SetDiscoveryFilter(ctx context.Context, f DiscoveryFilter) error {
	e := dbus.NewEncoder()
	e.OpenContainer('a', "{sv}")
	if f.Transport != "" {
		e.OpenContainer('{', "sv")
		e.WriteString("Transport")
		e.OpenContainer('v', "s")
		e.WriteString(f.Transport)
		e.CloseContainer()
		e.CloseContainer()
	}
	if len(f.UUIDs) > 0 {
		e.OpenContainer('{', "sv")
		e.WriteString("UUIDs")
		e.OpenContainer('v', "as")
		e.OpenContainer('a', "s")
		for _, u := range f.UUIDs {
			e.WriteString(u)
		}
		e.CloseContainer()
		e.CloseContainer()
		e.CloseContainer()
	}
	e.CloseContainer()
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	if _, err := a.conn.Call(ctx, Service, a.path, adapterInterface, "SetDiscoveryFilter", "a{sv}", body); err != nil {
		return fmt.Errorf("adapter %s: set discovery filter: %w", a.path, err)
	}
	return nil
}

// StartDiscovery begins device discovery on the adapter.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if _, err := a.conn.Call(ctx, Service, a.path, adapterInterface, "StartDiscovery", "", nil); err != nil {
		return fmt.Errorf("adapter %s: start discovery: %w", a.path, err)
	}
	return nil
}

// StopDiscovery ends device discovery.
func (a *Adapter) StopDiscovery(ctx context.Context) error {
	if _, err := a.conn.Call(ctx, Service, a.path, adapterInterface, "StopDiscovery", "", nil); err != nil {
		return fmt.Errorf("adapter %s: stop discovery: %w", a.path, err)
	}
	return nil
}
