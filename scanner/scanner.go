// Package scanner discovers BLE devices through the adapter's discovery
// session, surfacing InterfacesAdded announcements as events.
package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/kmw/bluewire/dbus"
	"github.com/kmw/bluewire/gatt"
	"github.com/kmw/bluewire/internal/queue"
)

const (
	deviceInterface        = "org.bluez.Device1"
	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
)

const stopTimeout = 5 * time.Second

// DeviceInfo is one discovered device.
type DeviceInfo struct {
	Path    dbus.ObjectPath
	Address string
	Name    string
	RSSI    int16
}

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

type Event struct {
	Type   EventType
	Device DeviceInfo
}

// Options configures scanning behavior
type Options struct {
	Duration     time.Duration
	Transport    string
	ServiceUUIDs []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	return &Options{
		Duration:  10 * time.Second,
		Transport: "le",
	}
}

// Scanner handles BLE device discovery over one adapter
type Scanner struct {
	conn    *dbus.Conn
	adapter *gatt.Adapter
	devices *hashmap.Map[string, DeviceInfo]
	events  *queue.Ring[Event]
	logger  *logrus.Logger
}

// New creates a scanner bound to the adapter.
func New(conn *dbus.Conn, adapter *gatt.Adapter, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		conn:    conn,
		adapter: adapter,
		events:  queue.NewRing[Event](100),
		logger:  logger,
	}
}

// Scan runs one discovery session and returns the devices seen, keyed by
// address. It returns when opts.Duration elapses or ctx is done.
func (s *Scanner) Scan(ctx context.Context, opts *Options) (map[string]DeviceInfo, error) {
	s.devices = hashmap.New[string, DeviceInfo]()

	if opts == nil {
		opts = DefaultOptions()
	}

	watch, err := s.conn.WatchSignals(ctx, dbus.Match{
		Interface: objectManagerInterface,
		Member:    "InterfacesAdded",
	})
	if err != nil {
		return nil, err
	}
	defer watch.Close(ctx)

	if opts.Transport != "" || len(opts.ServiceUUIDs) > 0 {
		err := s.adapter.SetDiscoveryFilter(ctx, gatt.DiscoveryFilter{
			Transport: opts.Transport,
			UUIDs:     opts.ServiceUUIDs,
		})
		if err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"adapter":  s.adapter.Path(),
		"duration": opts.Duration,
	}).Info("Starting BLE scan...")

	if err := s.adapter.StartDiscovery(ctx); err != nil {
		return nil, err
	}
	defer func() {
		// The scan context may already be done; stopping discovery
		// still needs a live one.
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.adapter.StopDiscovery(stopCtx); err != nil && !errors.Is(err, dbus.ErrClosed) {
			s.logger.WithError(err).Warn("failed to stop discovery")
		}
	}()

	deadline := time.NewTimer(opts.Duration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.snapshot(), nil
		case <-deadline.C:
			s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
			return s.snapshot(), nil
		case m, ok := <-watch.C():
			if !ok {
				return s.snapshot(), &dbus.FatalError{Op: "scan", Err: dbus.ErrClosed}
			}
			s.handleAnnouncement(m)
		}
	}
}

// handleAnnouncement updates existing or adds a new device
func (s *Scanner) handleAnnouncement(m *dbus.Message) {
	info, ok := s.decodeAnnouncement(m)
	if !ok {
		return
	}

	event := Event{Device: info}
	if prev, existing := s.devices.Get(info.Address); existing {
		if info.Name == "" {
			info.Name = prev.Name
		}
		event.Device = info
		event.Type = EventUpdated
		s.devices.Set(info.Address, info)
	} else {
		s.devices.Set(info.Address, info)
		s.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// decodeAnnouncement extracts device properties from one InterfacesAdded
// signal. Announcements for objects outside this adapter, or without the
// device interface, are ignored. A decode failure drops the announcement
// and is logged; the scan keeps running.
func (s *Scanner) decodeAnnouncement(m *dbus.Message) (DeviceInfo, bool) {
	d := dbus.NewDecoder(m.Body)
	path := d.ReadObjectPath()
	if !strings.HasPrefix(string(path), string(s.adapter.Path())+"/dev_") {
		return DeviceInfo{}, false
	}

	info := DeviceInfo{Path: path}
	seen := false
	outer := d.EnterArray("{sa{sv}}")
	for d.More(outer) {
		d.EnterStruct()
		iface := d.ReadString()
		if iface != deviceInterface {
			d.Skip("a{sv}")
			continue
		}
		seen = true
		inner := d.EnterArray("{sv}")
		for d.More(inner) {
			d.EnterStruct()
			name := d.ReadString()
			sig := d.ReadSignature()
			switch name {
			case "Address":
				info.Address, _ = d.ReadValue(sig).(string)
			case "Name", "Alias":
				if info.Name == "" {
					info.Name, _ = d.ReadValue(sig).(string)
				} else {
					d.Skip(sig)
				}
			case "RSSI":
				info.RSSI, _ = d.ReadValue(sig).(int16)
			default:
				d.Skip(sig)
			}
		}
	}
	if err := d.Err(); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("dropping undecodable announcement")
		return DeviceInfo{}, false
	}
	if !seen || info.Address == "" {
		return DeviceInfo{}, false
	}
	return info, true
}

func (s *Scanner) snapshot() map[string]DeviceInfo {
	devices := make(map[string]DeviceInfo, s.devices.Len())
	s.devices.Range(func(addr string, info DeviceInfo) bool {
		devices[addr] = info
		return true
	})
	return devices
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}
