package gatt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kmw/bluewire/dbus"
)

// State is the device connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Device is one BlueZ device object. All operations are issued over the
// shared bus connection; the device only tracks its own connect state.
type Device struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger

	mu    sync.Mutex
	state State
}

// NewDevice wraps the device object at path.
func NewDevice(conn *dbus.Conn, path dbus.ObjectPath, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}
	return &Device{conn: conn, path: path, logger: logger}
}

// Path returns the device object path.
func (d *Device) Path() dbus.ObjectPath {
	return d.path
}

// Address returns the device MAC address derived from its path.
func (d *Device) Address() (string, error) {
	return MAC(d.path)
}

// State returns the current connection state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Connect establishes the link-layer connection. A daemon rejection
// surfaces as ErrConnectionRefused and leaves the device Disconnected.
func (d *Device) Connect(ctx context.Context) error {
	d.setState(Connecting)
	_, err := d.conn.Call(ctx, Service, d.path, deviceInterface, "Connect", "", nil)
	if err != nil {
		d.setState(Disconnected)
		var cerr *dbus.CallError
		if errors.As(err, &cerr) {
			return fmt.Errorf("device %s: %w: %s", d.path, ErrConnectionRefused, cerr.Message)
		}
		return fmt.Errorf("device %s: connect: %w", d.path, err)
	}
	d.setState(Connected)
	d.logger.WithField("device", d.path).Info("connected")
	return nil
}

// Disconnect tears the link down.
func (d *Device) Disconnect(ctx context.Context) error {
	_, err := d.conn.Call(ctx, Service, d.path, deviceInterface, "Disconnect", "", nil)
	d.setState(Disconnected)
	if err != nil {
		return fmt.Errorf("device %s: disconnect: %w", d.path, err)
	}
	d.logger.WithField("device", d.path).Info("disconnected")
	return nil
}

// WaitServicesResolved blocks until BlueZ has finished service discovery
// for the device. The subscription is installed before the initial
// property read so a change between the two is never missed.
func (d *Device) WaitServicesResolved(ctx context.Context) error {
	sub, err := d.conn.Subscribe(ctx, Service, d.path, deviceInterface, "ServicesResolved")
	if err != nil {
		return err
	}
	defer sub.Close(ctx)

	v, err := d.conn.GetProperty(ctx, Service, d.path, deviceInterface, "ServicesResolved")
	if err != nil {
		return err
	}
	if resolved, ok := v.Value.(bool); ok && resolved {
		return nil
	}

	for {
		pc, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if resolved, ok := pc.Value.(bool); ok && resolved {
			return nil
		}
	}
}

// ConnectedWatch observes the device's Connected property.
type ConnectedWatch struct {
	sub *dbus.Subscription
}

// WatchConnected subscribes to the device's Connected property so the
// caller can observe daemon-initiated disconnects.
func (d *Device) WatchConnected(ctx context.Context) (*ConnectedWatch, error) {
	sub, err := d.conn.Subscribe(ctx, Service, d.path, deviceInterface, "Connected")
	if err != nil {
		return nil, err
	}
	return &ConnectedWatch{sub: sub}, nil
}

// Next blocks until the Connected property changes and returns its new
// value.
func (w *ConnectedWatch) Next(ctx context.Context) (bool, error) {
	for {
		pc, err := w.sub.Next(ctx)
		if err != nil {
			return false, err
		}
		if connected, ok := pc.Value.(bool); ok {
			return connected, nil
		}
	}
}

// Close removes the watch.
func (w *ConnectedWatch) Close(ctx context.Context) error {
	return w.sub.Close(ctx)
}

// Characteristic returns a handle on the characteristic object at path.
// Discover paths with Characteristics.
func (d *Device) Characteristic(path dbus.ObjectPath) *Characteristic {
	return &Characteristic{conn: d.conn, path: path, logger: d.logger}
}
