package gatt

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kmw/bluewire/dbus"
)

// Characteristic is one GATT characteristic object.
type Characteristic struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger
}

// Path returns the characteristic object path.
func (c *Characteristic) Path() dbus.ObjectPath {
	return c.path
}

// Read issues ReadValue and returns the characteristic's current value.
func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	body, err := emptyOptions()
	if err != nil {
		return nil, err
	}
	d, err := c.conn.Call(ctx, Service, c.path, characteristicInterface, "ReadValue", "a{sv}", body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
	value := d.ReadBytes()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
	return value, nil
}

// Write issues WriteValue with the payload. There is no value result,
// only success or error.
func (c *Characteristic) Write(ctx context.Context, value []byte) error {
	e := dbus.NewEncoder()
	e.WriteBytes(value)
	e.OpenContainer('a', "{sv}")
	e.CloseContainer()
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	if _, err := c.conn.Call(ctx, Service, c.path, characteristicInterface, "WriteValue", "aya{sv}", body); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return nil
}

// Notification is a stream of characteristic values pushed by the
// device. Values arrive in daemon order; Close stops notifications and
// removes the underlying subscription.
type Notification struct {
	char *Characteristic
	sub  *dbus.Subscription
}

// Notify starts value notifications. The property subscription is
// installed before StartNotify so the first pushed value cannot slip
// between the two.
func (c *Characteristic) Notify(ctx context.Context) (*Notification, error) {
	sub, err := c.conn.Subscribe(ctx, Service, c.path, characteristicInterface, "Value")
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Call(ctx, Service, c.path, characteristicInterface, "StartNotify", "", nil); err != nil {
		sub.Close(ctx)
		return nil, fmt.Errorf("notify %s: %w", c.path, err)
	}
	c.logger.WithField("characteristic", c.path).Debug("notifications started")
	return &Notification{char: c, sub: sub}, nil
}

// Next blocks until the next pushed value.
func (n *Notification) Next(ctx context.Context) ([]byte, error) {
	for {
		pc, err := n.sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if value, ok := pc.Value.([]byte); ok {
			return value, nil
		}
	}
}

// Close stops notifications: the subscription is removed and StopNotify
// issued, symmetric with Notify.
func (n *Notification) Close(ctx context.Context) error {
	if err := n.sub.Close(ctx); err != nil {
		return err
	}
	c := n.char
	if _, err := c.conn.Call(ctx, Service, c.path, characteristicInterface, "StopNotify", "", nil); err != nil {
		return fmt.Errorf("stop notify %s: %w", c.path, err)
	}
	c.logger.WithField("characteristic", c.path).Debug("notifications stopped")
	return nil
}

func emptyOptions() ([]byte, error) {
	e := dbus.NewEncoder()
	e.OpenContainer('a', "{sv}")
	e.CloseContainer()
	return e.Bytes()
}
