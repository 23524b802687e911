package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kmw/bluewire/config"
	"github.com/kmw/bluewire/dbus"
	"github.com/kmw/bluewire/gatt"
)

// session bundles what every command needs: the effective config, the
// logger, the bus connection and the resolved adapter.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	conn    *dbus.Conn
	adapter *gatt.Adapter
}

// newSession loads config, connects to the system bus and resolves the
// adapter. Flags override file values.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	conn, err := dbus.ConnectSystemBus(&dbus.Options{
		Logger:        logger,
		Address:       cfg.BusAddress,
		QueueCapacity: cfg.QueueCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	adapter, err := resolveAdapter(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, conn: conn, adapter: adapter}, nil
}

func (s *session) Close() {
	s.conn.Close()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.DefaultConfig()
		applyFlags(cmd, cfg)
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if adapter, _ := cmd.Flags().GetString("adapter"); adapter != "" {
		cfg.Adapter = adapter
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
}

func resolveAdapter(conn *dbus.Conn, cfg *config.Config) (*gatt.Adapter, error) {
	if cfg.Adapter != "" {
		return gatt.NewAdapter(conn, dbus.ObjectPath("/org/bluez/"+cfg.Adapter)), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gatt.DefaultAdapter(ctx, conn)
}

// connectDevice connects to the device at mac and waits for service
// discovery to finish.
func (s *session) connectDevice(ctx context.Context, mac string) (*gatt.Device, error) {
	dev := gatt.NewDevice(s.conn, s.adapter.DevicePath(mac), s.logger)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := dev.Connect(connectCtx); err != nil {
		return nil, err
	}
	if err := dev.WaitServicesResolved(connectCtx); err != nil {
		dev.Disconnect(ctx)
		return nil, fmt.Errorf("service discovery: %w", err)
	}
	return dev, nil
}

// findCharacteristic resolves a UUID to a characteristic handle on the
// connected device.
func findCharacteristic(ctx context.Context, dev *gatt.Device, uuid string) (*gatt.Characteristic, error) {
	chars, err := dev.Characteristics(ctx)
	if err != nil {
		return nil, err
	}
	path, ok := chars.Get(uuid)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return dev.Characteristic(path), nil
}
