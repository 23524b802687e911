package dbus

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kmw/bluewire/internal/groutine"
	"github.com/kmw/bluewire/internal/queue"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = ObjectPath("/org/freedesktop/DBus")
	busInterface = "org.freedesktop.DBus"

	propertiesInterface = "org.freedesktop.DBus.Properties"
)

// DefaultQueueCapacity bounds subscription and watch queues unless
// overridden in Options. Overflow drops the oldest entry; drops are
// visible in the queue metrics.
const DefaultQueueCapacity = 128

const helloTimeout = 10 * time.Second

// Options configures a connection.
type Options struct {
	// Logger receives connection and dispatch events. Nil creates a
	// fresh logger.
	Logger *logrus.Logger
	// Address overrides the system bus address.
	Address string
	// QueueCapacity bounds per-subscription queues. Zero means
	// DefaultQueueCapacity.
	QueueCapacity int
}

// Conn owns exactly one connection to the message bus and the descriptor
// derived from it. It is created once per session, never copied, and
// released exactly once by Close; after Close every derived call fails
// with an error wrapping ErrClosed.
type Conn struct {
	nc       net.Conn
	fd       int
	log      *logrus.Logger
	queueCap int

	serial  atomic.Uint32
	pending *hashmap.Map[uint32, *PendingCall]

	wmu sync.Mutex // serializes writes to nc

	subMu   sync.Mutex
	subID   uint64
	subs    map[uint64]*Subscription
	watches map[uint64]*SignalWatch

	closed   atomic.Bool
	teardown sync.Once
	done     chan struct{}

	uniqueName string
}

// ConnectSystemBus opens one connection to the system bus: unix socket,
// EXTERNAL authentication, Hello handshake. The returned connection is
// already pumping replies and signals.
func ConnectSystemBus(opts *Options) (*Conn, error) {
	if opts == nil {
		opts = &Options{}
	}
	addr := opts.Address
	if addr == "" {
		addr = systemBusAddress()
	}
	nc, err := dialUnix(addr)
	if err != nil {
		return nil, &FatalError{Op: "connect", Err: err}
	}
	if err := authExternal(nc); err != nil {
		nc.Close()
		return nil, &FatalError{Op: "auth", Err: err}
	}

	c := NewConn(nc, opts)

	ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
	defer cancel()
	d, err := c.Call(ctx, busName, busPath, busInterface, "Hello", "", nil)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.uniqueName = d.ReadString()
	if err := d.Err(); err != nil {
		c.Close()
		return nil, err
	}
	c.log.WithField("name", c.uniqueName).Debug("connected to system bus")
	return c, nil
}

// NewConn wraps an already authenticated transport and starts the pump
// loop. It exists so callers driving their own event loop (and tests)
// can supply the transport; ConnectSystemBus is the usual entry point.
func NewConn(nc net.Conn, opts *Options) *Conn {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	c := &Conn{
		nc:       nc,
		fd:       -1,
		log:      log,
		queueCap: capacity,
		pending:  hashmap.New[uint32, *PendingCall](),
		subs:     make(map[uint64]*Subscription),
		watches:  make(map[uint64]*SignalWatch),
		done:     make(chan struct{}),
	}

	if uc, ok := nc.(*net.UnixConn); ok {
		if raw, err := uc.SyscallConn(); err == nil {
			raw.Control(func(fd uintptr) {
				c.fd = int(fd)
				unix.CloseOnExec(int(fd))
			})
		}
	}

	groutine.Go(nil, "dbus-pump", func(context.Context) { c.pump() })
	return c
}

// Fd returns the pollable descriptor for external readiness monitoring,
// or -1 when the transport has no descriptor.
func (c *Conn) Fd() int {
	return c.fd
}

// UniqueName returns the unique bus name assigned by the Hello handshake.
func (c *Conn) UniqueName() string {
	return c.uniqueName
}

// Done is closed once the connection has shut down and all outstanding
// work has been failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close releases the transport. Every outstanding pending call and
// subscription is resolved with an error wrapping ErrClosed so no waiter
// hangs.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.nc.Close()
	// The pump exits on the closed transport and runs shutdown, but
	// run it here too in case the pump never started reading.
	c.shutdown()
	return err
}

func (c *Conn) nextSerial() uint32 {
	return c.serial.Add(1)
}

func (c *Conn) send(m *Message) error {
	buf, err := m.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	_, err = c.nc.Write(buf)
	return err
}

// pump drains and dispatches messages until the transport fails or is
// closed. One iteration dispatches exactly one message; the blocking
// read makes the loop drain everything available after a readiness
// notification before it parks again.
func (c *Conn) pump() {
	for {
		m, err := ReadMessage(c.nc)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.WithError(err).Warn("bus read failed")
			}
			c.closed.Store(true)
			c.shutdown()
			return
		}
		c.dispatch(m)
	}
}

func (c *Conn) dispatch(m *Message) {
	switch m.Type {
	case TypeMethodReturn, TypeError:
		p, ok := c.pending.Get(m.ReplySerial)
		if !ok {
			// Waiter gone (canceled) or duplicate reply. Nothing to
			// resolve; dropping is the safe side of exactly-once.
			c.log.WithField("reply_serial", m.ReplySerial).Debug("reply for unknown call")
			return
		}
		c.pending.Del(m.ReplySerial)
		p.resolve(replyResult(m))
	case TypeSignal:
		c.dispatchSignal(m)
	}
}

func replyResult(m *Message) callResult {
	if m.Type != TypeError {
		return callResult{body: m.Body, sig: m.Signature}
	}
	text := ""
	if len(m.Signature) > 0 && m.Signature[0] == 's' {
		d := NewDecoder(m.Body)
		text = d.ReadString()
		if d.Err() != nil {
			text = ""
		}
	}
	return callResult{err: &CallError{Name: m.ErrorName, Message: text}}
}

// shutdown fails every outstanding pending call and closes every
// subscription queue. Runs at most once.
func (c *Conn) shutdown() {
	c.teardown.Do(func() {
		c.pending.Range(func(serial uint32, p *PendingCall) bool {
			c.pending.Del(serial)
			p.resolve(callResult{err: &FatalError{Op: "await reply", Err: ErrClosed}})
			return true
		})

		c.subMu.Lock()
		for id, s := range c.subs {
			delete(c.subs, id)
			s.queue.Close()
		}
		for id, w := range c.watches {
			delete(c.watches, id)
			w.queue.Close()
		}
		c.subMu.Unlock()

		close(c.done)
		c.log.Debug("bus connection closed")
	})
}

// newRing is the queue constructor shared by subscriptions and watches.
func newRing[T any](c *Conn) *queue.Ring[T] {
	return queue.NewRing[T](c.queueCap)
}
