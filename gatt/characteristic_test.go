package gatt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmw/bluewire/dbus"
	"github.com/kmw/bluewire/gatt"
	"github.com/kmw/bluewire/internal/bustest"
)

const charPath = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0011")

func testCharacteristic(t *testing.T) (*bustest.Server, *gatt.Characteristic) {
	t.Helper()
	srv, conn := newTestConn(t)
	dev := gatt.NewDevice(conn, devicePath, nil)
	return srv, dev.Characteristic(charPath)
}

func TestRead(t *testing.T) {
	srv, char := testCharacteristic(t)
	srv.Handle("org.bluez.GattCharacteristic1", "ReadValue", func(call *dbus.Message) *dbus.Message {
		if call.Path != charPath || call.Signature != "a{sv}" {
			return bustest.Error("org.freedesktop.DBus.Error.InvalidArgs", "missing options")
		}
		// The options dictionary must be present even when empty.
		d := dbus.NewDecoder(call.Body)
		limit := d.EnterArray("{sv}")
		if d.More(limit) || d.Err() != nil {
			return bustest.Error("org.freedesktop.DBus.Error.InvalidArgs", "unexpected options")
		}
		return bustest.Reply("ay", func(e *dbus.Encoder) {
			e.WriteBytes([]byte{0x17, 0x2a, 0x00})
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	value, err := char.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x17, 0x2a, 0x00}, value)
}

func TestReadDaemonError(t *testing.T) {
	srv, char := testCharacteristic(t)
	srv.Handle("org.bluez.GattCharacteristic1", "ReadValue", func(*dbus.Message) *dbus.Message {
		return bustest.Error("org.bluez.Error.NotPermitted", "Read not permitted")
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := char.Read(ctx)
	require.Error(t, err)

	var cerr *dbus.CallError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "org.bluez.Error.NotPermitted", cerr.Name)
}

func TestWrite(t *testing.T) {
	srv, char := testCharacteristic(t)
	var got []byte
	srv.Handle("org.bluez.GattCharacteristic1", "WriteValue", func(call *dbus.Message) *dbus.Message {
		if call.Signature != "aya{sv}" {
			return bustest.Error("org.freedesktop.DBus.Error.InvalidArgs", "bad signature")
		}
		d := dbus.NewDecoder(call.Body)
		got = d.ReadBytes()
		limit := d.EnterArray("{sv}")
		if d.More(limit) || d.Err() != nil {
			return bustest.Error("org.freedesktop.DBus.Error.InvalidArgs", "unexpected options")
		}
		return bustest.Reply("", nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, char.Write(ctx, []byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x01, 0x02}, got)
}

func TestNotifyLifecycle(t *testing.T) {
	srv, char := testCharacteristic(t)
	started := false
	stopped := false
	srv.Handle("org.bluez.GattCharacteristic1", "StartNotify", func(*dbus.Message) *dbus.Message {
		started = true
		return bustest.Reply("", nil)
	})
	srv.Handle("org.bluez.GattCharacteristic1", "StopNotify", func(*dbus.Message) *dbus.Message {
		stopped = true
		return bustest.Reply("", nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	n, err := char.Notify(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	require.Len(t, srv.Rules(), 1)

	for i, want := range [][]byte{{0x01}, {0x02}, {0x03}} {
		require.NoError(t, srv.Send(bustest.PropertiesChanged(charPath, "org.bluez.GattCharacteristic1", []bustest.Prop{
			bustest.Bytes("Value", want),
		})))
		got, err := n.Next(ctx)
		require.NoError(t, err, "value %d", i)
		assert.Equal(t, want, got, "value %d", i)
	}

	require.NoError(t, n.Close(ctx))
	assert.True(t, stopped)
	assert.Empty(t, srv.Rules())
}

func TestNotifyStartFailureTearsDownSubscription(t *testing.T) {
	srv, char := testCharacteristic(t)
	srv.Handle("org.bluez.GattCharacteristic1", "StartNotify", func(*dbus.Message) *dbus.Message {
		return bustest.Error("org.bluez.Error.NotSupported", "notify not supported")
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := char.Notify(ctx)
	require.Error(t, err)
	assert.Empty(t, srv.Rules())
}

func TestNotifyIgnoresOtherProperties(t *testing.T) {
	srv, char := testCharacteristic(t)
	srv.Handle("org.bluez.GattCharacteristic1", "StartNotify", func(*dbus.Message) *dbus.Message {
		return bustest.Reply("", nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	n, err := char.Notify(ctx)
	require.NoError(t, err)

	require.NoError(t, srv.Send(bustest.PropertiesChanged(charPath, "org.bluez.GattCharacteristic1", []bustest.Prop{
		bustest.Bool("Notifying", true),
		bustest.Bytes("Value", []byte{0x2a}),
	})))

	got, err := n.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, got)
}
