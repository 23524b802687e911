package dbus

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/kmw/bluewire/internal/queue"
)

// Match describes a daemon-side signal filter. Empty fields are omitted
// from the rule.
type Match struct {
	Sender    string
	Interface string
	Member    string
	Path      ObjectPath
	Arg0      string
}

// Rule renders the match in the daemon's rule syntax. Field order is
// fixed; the daemon's match engine compares rule strings byte-for-byte
// when removing them.
func (m Match) Rule() string {
	var b strings.Builder
	b.WriteString("type='signal'")
	if m.Sender != "" {
		fmt.Fprintf(&b, ",sender='%s'", m.Sender)
	}
	if m.Interface != "" {
		fmt.Fprintf(&b, ",interface='%s'", m.Interface)
	}
	if m.Member != "" {
		fmt.Fprintf(&b, ",member='%s'", m.Member)
	}
	if m.Path != "" {
		fmt.Fprintf(&b, ",path='%s'", m.Path)
	}
	if m.Arg0 != "" {
		fmt.Fprintf(&b, ",arg0='%s'", m.Arg0)
	}
	return b.String()
}

// PropertyChange is one decoded property-change delivery.
type PropertyChange struct {
	Name  string
	Value any
	Sig   string
}

// Subscription is interest in property-change notifications for one
// object path and interface, filtered to a set of property names (empty
// set means all). Deliveries are enqueued in daemon order and dequeued
// FIFO; the queue is bounded by the connection's queue capacity with
// drop-oldest overflow.
type Subscription struct {
	id     uint64
	conn   *Conn
	path   ObjectPath
	iface  string
	filter map[string]struct{}
	rule   string
	queue  *queue.Ring[PropertyChange]
	closed atomic.Bool
}

// Subscribe installs a match rule for property-change signals from
// sender on path whose first argument equals iface, and returns the
// subscription. One signal delivery fans out centrally to every
// subscription registered for the same path and interface, so each
// delivery is parsed once no matter how many subscribers share it.
func (c *Conn) Subscribe(ctx context.Context, sender string, path ObjectPath, iface string, properties ...string) (*Subscription, error) {
	if c.closed.Load() {
		return nil, &FatalError{Op: "subscribe", Err: ErrClosed}
	}
	s := &Subscription{
		conn:  c,
		path:  path,
		iface: iface,
		rule: Match{
			Sender:    sender,
			Interface: propertiesInterface,
			Member:    "PropertiesChanged",
			Path:      path,
			Arg0:      iface,
		}.Rule(),
		queue: newRing[PropertyChange](c),
	}
	if len(properties) > 0 {
		s.filter = make(map[string]struct{}, len(properties))
		for _, p := range properties {
			s.filter[p] = struct{}{}
		}
	}

	c.subMu.Lock()
	c.subID++
	s.id = c.subID
	c.subs[s.id] = s
	c.subMu.Unlock()

	if err := c.addMatch(ctx, s.rule); err != nil {
		c.subMu.Lock()
		delete(c.subs, s.id)
		c.subMu.Unlock()
		return nil, err
	}
	c.log.WithField("rule", s.rule).Debug("subscribed")
	return s, nil
}

// Next returns the oldest queued change, blocking until one arrives, ctx
// is done, or the subscription shuts down.
func (s *Subscription) Next(ctx context.Context) (PropertyChange, error) {
	select {
	case <-ctx.Done():
		return PropertyChange{}, ctx.Err()
	case pc, ok := <-s.queue.C():
		if !ok {
			return PropertyChange{}, &FatalError{Op: "next change", Err: ErrClosed}
		}
		return pc, nil
	}
}

// C exposes the delivery queue as a channel. It is closed when the
// subscription or the connection closes.
func (s *Subscription) C() <-chan PropertyChange {
	return s.queue.C()
}

// Metrics returns queue counters, including entries dropped to overflow.
func (s *Subscription) Metrics() queue.Metrics {
	return s.queue.GetMetrics()
}

// Close removes the subscription's match rule and releases its queue.
// Teardown is symmetric with Subscribe: each subscription owns its own
// rule registration, so closing one does not disturb others sharing the
// same path and interface.
func (s *Subscription) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	c := s.conn
	c.subMu.Lock()
	_, registered := c.subs[s.id]
	delete(c.subs, s.id)
	if registered {
		// Closed under the lock so the dispatcher cannot send to a
		// closed queue.
		s.queue.Close()
	}
	c.subMu.Unlock()
	if !registered {
		// Connection shutdown already closed the queue.
		return nil
	}
	if c.closed.Load() {
		return nil
	}
	return c.removeMatch(ctx, s.rule)
}

// SignalWatch delivers raw signal messages matching a rule. It backs
// subscriptions that are not property changes, such as the discovery
// layer's InterfacesAdded stream.
type SignalWatch struct {
	id     uint64
	conn   *Conn
	match  Match
	rule   string
	queue  *queue.Ring[*Message]
	closed atomic.Bool
}

// WatchSignals installs the match rule and delivers matching signals as
// raw messages for the caller to decode.
func (c *Conn) WatchSignals(ctx context.Context, m Match) (*SignalWatch, error) {
	if c.closed.Load() {
		return nil, &FatalError{Op: "watch", Err: ErrClosed}
	}
	w := &SignalWatch{
		conn:  c,
		match: m,
		rule:  m.Rule(),
		queue: newRing[*Message](c),
	}

	c.subMu.Lock()
	c.subID++
	w.id = c.subID
	c.watches[w.id] = w
	c.subMu.Unlock()

	if err := c.addMatch(ctx, w.rule); err != nil {
		c.subMu.Lock()
		delete(c.watches, w.id)
		c.subMu.Unlock()
		return nil, err
	}
	return w, nil
}

// C exposes the watch queue. It is closed when the watch or the
// connection closes.
func (w *SignalWatch) C() <-chan *Message {
	return w.queue.C()
}

// Next returns the oldest matching signal.
func (w *SignalWatch) Next(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-w.queue.C():
		if !ok {
			return nil, &FatalError{Op: "next signal", Err: ErrClosed}
		}
		return m, nil
	}
}

// Close removes the watch's match rule and releases its queue.
func (w *SignalWatch) Close(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	c := w.conn
	c.subMu.Lock()
	_, registered := c.watches[w.id]
	delete(c.watches, w.id)
	if registered {
		w.queue.Close()
	}
	c.subMu.Unlock()
	if !registered {
		return nil
	}
	if c.closed.Load() {
		return nil
	}
	return c.removeMatch(ctx, w.rule)
}

func (c *Conn) addMatch(ctx context.Context, rule string) error {
	return c.matchCall(ctx, "AddMatch", rule)
}

func (c *Conn) removeMatch(ctx context.Context, rule string) error {
	return c.matchCall(ctx, "RemoveMatch", rule)
}

func (c *Conn) matchCall(ctx context.Context, member, rule string) error {
	e := NewEncoder()
	e.WriteString(rule)
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, busName, busPath, busInterface, member, "s", body)
	return err
}

// dispatchSignal routes one signal delivery: property changes fan out to
// the matching subscriptions, everything else to the raw watches. A
// decode failure inside one delivery is reported and the delivery
// skipped; it never stops the pump from draining further messages.
func (c *Conn) dispatchSignal(m *Message) {
	if m.Interface == propertiesInterface && m.Member == "PropertiesChanged" {
		c.fanOutProperties(m)
		return
	}

	// Held across the sends: a watch closing concurrently closes its
	// queue under the same lock, and Send never blocks.
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, w := range c.watches {
		if w.matches(m) {
			w.queue.Send(m)
		}
	}
}

func (w *SignalWatch) matches(m *Message) bool {
	if w.match.Interface != "" && m.Interface != w.match.Interface {
		return false
	}
	if w.match.Member != "" && m.Member != w.match.Member {
		return false
	}
	if w.match.Path != "" && m.Path != w.match.Path {
		return false
	}
	return true
}

// fanOutProperties decodes one PropertiesChanged delivery exactly once
// and distributes the interesting values. Body layout: the interface
// name, then an array of (property-name, variant) dict-entries, then the
// invalidated-properties list which nobody here consumes.
func (c *Conn) fanOutProperties(m *Message) {
	d := NewDecoder(m.Body)
	iface := d.ReadString()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	var targets []*Subscription
	for _, s := range c.subs {
		if s.path == m.Path && s.iface == iface {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return
	}

	limit := d.EnterArray("{sv}")
	for d.More(limit) {
		d.EnterStruct()
		name := d.ReadString()
		sig := d.ReadSignature()

		wanted := targets[:0:0]
		for _, s := range targets {
			if s.wants(name) {
				wanted = append(wanted, s)
			}
		}
		if len(wanted) == 0 {
			// Still consumed, to keep the cursor synchronized for the
			// next entry.
			d.Skip(sig)
			continue
		}
		value := d.ReadValue(sig)
		if d.Err() != nil {
			break
		}
		for _, s := range wanted {
			s.queue.Send(PropertyChange{Name: name, Value: value, Sig: sig})
		}
	}
	if err := d.Err(); err != nil {
		c.log.WithError(err).WithFields(map[string]any{
			"path":      m.Path,
			"interface": iface,
		}).Warn("dropping undecodable property change")
	}
}

func (s *Subscription) wants(name string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[name]
	return ok
}
