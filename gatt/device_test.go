package gatt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmw/bluewire/dbus"
	"github.com/kmw/bluewire/gatt"
	"github.com/kmw/bluewire/internal/bustest"
)

const devicePath = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

func TestConnectSuccess(t *testing.T) {
	srv, conn := newTestConn(t)
	srv.Handle("org.bluez.Device1", "Connect", func(call *dbus.Message) *dbus.Message {
		if call.Path != devicePath || call.Destination != "org.bluez" {
			return bustest.Error("org.freedesktop.DBus.Error.UnknownObject", "wrong object")
		}
		return bustest.Reply("", nil)
	})

	dev := gatt.NewDevice(conn, devicePath, nil)
	assert.Equal(t, gatt.Disconnected, dev.State())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, dev.Connect(ctx))
	assert.Equal(t, gatt.Connected, dev.State())
}

func TestConnectRefused(t *testing.T) {
	srv, conn := newTestConn(t)
	srv.Handle("org.bluez.Device1", "Connect", func(call *dbus.Message) *dbus.Message {
		return bustest.Error("org.bluez.Error.Failed", "le-connection-abort-by-local")
	})

	dev := gatt.NewDevice(conn, devicePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := dev.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatt.ErrConnectionRefused)
	assert.ErrorContains(t, err, "le-connection-abort-by-local")
	assert.Equal(t, gatt.Disconnected, dev.State())
}

func TestConnectOnClosedConnIsNotRefused(t *testing.T) {
	_, conn := newTestConn(t)
	require.NoError(t, conn.Close())

	dev := gatt.NewDevice(conn, devicePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := dev.Connect(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, gatt.ErrConnectionRefused)
	assert.ErrorIs(t, err, dbus.ErrClosed)
	assert.Equal(t, gatt.Disconnected, dev.State())
}

func TestDisconnect(t *testing.T) {
	srv, conn := newTestConn(t)
	srv.Handle("org.bluez.Device1", "Connect", func(*dbus.Message) *dbus.Message {
		return bustest.Reply("", nil)
	})
	srv.Handle("org.bluez.Device1", "Disconnect", func(*dbus.Message) *dbus.Message {
		return bustest.Reply("", nil)
	})

	dev := gatt.NewDevice(conn, devicePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, dev.Connect(ctx))
	require.NoError(t, dev.Disconnect(ctx))
	assert.Equal(t, gatt.Disconnected, dev.State())
}

func TestWaitServicesResolvedAlreadyResolved(t *testing.T) {
	srv, conn := newTestConn(t)
	srv.Handle("org.freedesktop.DBus.Properties", "Get", func(call *dbus.Message) *dbus.Message {
		return bustest.Reply("v", func(e *dbus.Encoder) {
			e.OpenContainer('v', "b")
			e.WriteBool(true)
			e.CloseContainer()
		})
	})

	dev := gatt.NewDevice(conn, devicePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, dev.WaitServicesResolved(ctx))
	// The wait's subscription was torn down.
	assert.Empty(t, srv.Rules())
}

func TestWaitServicesResolvedViaSignal(t *testing.T) {
	srv, conn := newTestConn(t)
	srv.Handle("org.freedesktop.DBus.Properties", "Get", func(call *dbus.Message) *dbus.Message {
		return bustest.Reply("v", func(e *dbus.Encoder) {
			e.OpenContainer('v', "b")
			e.WriteBool(false)
			e.CloseContainer()
		})
	})

	dev := gatt.NewDevice(conn, devicePath, nil)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		done <- dev.WaitServicesResolved(ctx)
	}()

	// The subscription exists before the initial read is answered, so
	// this signal is observed even though the read said false.
	require.Eventually(t, func() bool { return len(srv.Rules()) == 1 }, testTimeout, 5*time.Millisecond)
	require.NoError(t, srv.Send(bustest.PropertiesChanged(devicePath, "org.bluez.Device1", []bustest.Prop{
		bustest.Bool("ServicesResolved", true),
	})))

	require.NoError(t, <-done)
}

func TestWatchConnected(t *testing.T) {
	srv, conn := newTestConn(t)

	dev := gatt.NewDevice(conn, devicePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	watch, err := dev.WatchConnected(ctx)
	require.NoError(t, err)

	require.NoError(t, srv.Send(bustest.PropertiesChanged(devicePath, "org.bluez.Device1", []bustest.Prop{
		bustest.Bool("Connected", false),
	})))

	connected, err := watch.Next(ctx)
	require.NoError(t, err)
	assert.False(t, connected)

	require.NoError(t, watch.Close(ctx))
	assert.Empty(t, srv.Rules())
}
