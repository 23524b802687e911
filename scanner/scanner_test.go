package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmw/bluewire/dbus"
	"github.com/kmw/bluewire/gatt"
	"github.com/kmw/bluewire/internal/bustest"
	"github.com/kmw/bluewire/scanner"
)

const adapterPath = dbus.ObjectPath("/org/bluez/hci0")

type fakeAdapter struct {
	srv       *bustest.Server
	started   chan struct{}
	stopped   chan struct{}
	filterSet chan struct{}
}

func newFakeAdapter(srv *bustest.Server) *fakeAdapter {
	a := &fakeAdapter{
		srv:       srv,
		started:   make(chan struct{}, 1),
		stopped:   make(chan struct{}, 1),
		filterSet: make(chan struct{}, 1),
	}
	srv.Handle("org.bluez.Adapter1", "SetDiscoveryFilter", func(*dbus.Message) *dbus.Message {
		a.filterSet <- struct{}{}
		return bustest.Reply("", nil)
	})
	srv.Handle("org.bluez.Adapter1", "StartDiscovery", func(*dbus.Message) *dbus.Message {
		a.started <- struct{}{}
		return bustest.Reply("", nil)
	})
	srv.Handle("org.bluez.Adapter1", "StopDiscovery", func(*dbus.Message) *dbus.Message {
		a.stopped <- struct{}{}
		return bustest.Reply("", nil)
	})
	return a
}

// announcement builds an InterfacesAdded signal for a device object.
func announcement(path dbus.ObjectPath, address, name string, rssi int16) *dbus.Message {
	e := dbus.NewEncoder()
	e.WriteObjectPath(path)
	e.OpenContainer('a', "{sa{sv}}")
	e.OpenContainer('{', "sa{sv}")
	e.WriteString("org.bluez.Device1")
	e.OpenContainer('a', "{sv}")

	prop := func(name, sig string, write func(*dbus.Encoder)) {
		e.OpenContainer('{', "sv")
		e.WriteString(name)
		e.OpenContainer('v', sig)
		write(e)
		e.CloseContainer()
		e.CloseContainer()
	}
	prop("Address", "s", func(e *dbus.Encoder) { e.WriteString(address) })
	if name != "" {
		prop("Name", "s", func(e *dbus.Encoder) { e.WriteString(name) })
	}
	prop("RSSI", "n", func(e *dbus.Encoder) { e.WriteInt16(rssi) })
	// A property the scanner has no use for; it must be skipped.
	prop("UUIDs", "as", func(e *dbus.Encoder) {
		e.OpenContainer('a', "s")
		e.WriteString("0000180f-0000-1000-8000-00805f9b34fb")
		e.CloseContainer()
	})

	e.CloseContainer()
	e.CloseContainer()
	e.CloseContainer()
	body, err := e.Bytes()
	if err != nil {
		panic(err)
	}
	return &dbus.Message{
		Type:      dbus.TypeSignal,
		Path:      "/",
		Interface: "org.freedesktop.DBus.ObjectManager",
		Member:    "InterfacesAdded",
		Sender:    bustest.UniqueName,
		Signature: "oa{sa{sv}}",
		Body:      body,
	}
}

func newTestScanner(t *testing.T) (*bustest.Server, *fakeAdapter, *scanner.Scanner) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	srv, transport := bustest.New()
	conn := dbus.NewConn(transport, &dbus.Options{Logger: log})
	t.Cleanup(func() {
		conn.Close()
		srv.Close()
	})
	fake := newFakeAdapter(srv)
	s := scanner.New(conn, gatt.NewAdapter(conn, adapterPath), log)
	return srv, fake, s
}

func TestScanDiscoversDevices(t *testing.T) {
	srv, fake, s := newTestScanner(t)

	result := make(chan map[string]scanner.DeviceInfo, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		devices, err := s.Scan(ctx, &scanner.Options{Duration: 300 * time.Millisecond, Transport: "le"})
		require.NoError(t, err)
		result <- devices
	}()

	<-fake.filterSet
	<-fake.started
	require.NoError(t, srv.Send(announcement(
		adapterPath+"/dev_AA_BB_CC_DD_EE_FF", "AA:BB:CC:DD:EE:FF", "SensorTag", -58)))
	require.NoError(t, srv.Send(announcement(
		adapterPath+"/dev_11_22_33_44_55_66", "11:22:33:44:55:66", "", -80)))

	devices := <-result
	<-fake.stopped

	require.Len(t, devices, 2)
	tag := devices["AA:BB:CC:DD:EE:FF"]
	assert.Equal(t, "SensorTag", tag.Name)
	assert.Equal(t, int16(-58), tag.RSSI)
	assert.Equal(t, adapterPath+"/dev_AA_BB_CC_DD_EE_FF", tag.Path)
	assert.Contains(t, devices, "11:22:33:44:55:66")
}

func TestScanIgnoresOtherAdapters(t *testing.T) {
	srv, fake, s := newTestScanner(t)

	result := make(chan map[string]scanner.DeviceInfo, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		devices, err := s.Scan(ctx, &scanner.Options{Duration: 300 * time.Millisecond})
		require.NoError(t, err)
		result <- devices
	}()

	<-fake.started
	require.NoError(t, srv.Send(announcement(
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", "AA:BB:CC:DD:EE:FF", "Elsewhere", -40)))
	require.NoError(t, srv.Send(announcement(
		adapterPath+"/dev_11_22_33_44_55_66", "11:22:33:44:55:66", "Here", -70)))

	devices := <-result
	require.Len(t, devices, 1)
	assert.Contains(t, devices, "11:22:33:44:55:66")
}

func TestScanEmitsEvents(t *testing.T) {
	srv, fake, s := newTestScanner(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.Scan(ctx, &scanner.Options{Duration: 300 * time.Millisecond})
		require.NoError(t, err)
	}()

	<-fake.started
	path := adapterPath + "/dev_AA_BB_CC_DD_EE_FF"
	require.NoError(t, srv.Send(announcement(path, "AA:BB:CC:DD:EE:FF", "SensorTag", -58)))
	require.NoError(t, srv.Send(announcement(path, "AA:BB:CC:DD:EE:FF", "", -61)))

	first := <-s.Events()
	assert.Equal(t, scanner.EventNew, first.Type)
	assert.Equal(t, "SensorTag", first.Device.Name)

	second := <-s.Events()
	assert.Equal(t, scanner.EventUpdated, second.Type)
	assert.Equal(t, int16(-61), second.Device.RSSI)
	// Name carries over from the first announcement.
	assert.Equal(t, "SensorTag", second.Device.Name)

	<-done
}
