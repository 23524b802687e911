package dbus

import (
	"context"
	"sync/atomic"
)

// callResult is the outcome of one method call: a reply body or an error.
type callResult struct {
	body []byte
	sig  string
	err  error
}

// PendingCall is one in-flight method call. It is resolved exactly once,
// by the pump step that observes the matching reply or by connection
// shutdown. The waiter owns it exclusively; a canceled waiter simply
// stops waiting and the eventual resolution lands in the buffered result
// cell without anyone to read it.
type PendingCall struct {
	serial   uint32
	ch       chan callResult
	resolved atomic.Bool
}

func (p *PendingCall) resolve(res callResult) {
	if p.resolved.CompareAndSwap(false, true) {
		p.ch <- res
	}
}

// Await blocks until the call resolves or ctx is done. On success it
// returns a decoder positioned at the start of the reply body.
// Cancellation abandons the wait only; there is no daemon-side cancel.
func (p *PendingCall) Await(ctx context.Context) (*Decoder, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-p.ch:
		if res.err != nil {
			return nil, res.err
		}
		return NewDecoder(res.body), nil
	}
}

// CallAsync serializes the call and hands it to the daemon without
// blocking. A local failure to issue the call reports immediately as a
// FatalError and no resolution will ever fire; once issued, the returned
// PendingCall resolves exactly once with the decoded reply or a
// CallError.
func (c *Conn) CallAsync(dest string, path ObjectPath, iface, member, sig string, body []byte) (*PendingCall, error) {
	if c.closed.Load() {
		return nil, &FatalError{Op: member, Err: ErrClosed}
	}
	serial := c.nextSerial()
	p := &PendingCall{serial: serial, ch: make(chan callResult, 1)}
	c.pending.Set(serial, p)

	m := &Message{
		Type:        TypeMethodCall,
		Serial:      serial,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Destination: dest,
		Signature:   sig,
		Body:        body,
	}
	if err := c.send(m); err != nil {
		c.pending.Del(serial)
		return nil, &FatalError{Op: member, Err: err}
	}
	return p, nil
}

// Call issues the method call and awaits its resolution. Not the hot
// path; used for setup-time calls such as Hello, AddMatch and property
// reads.
func (c *Conn) Call(ctx context.Context, dest string, path ObjectPath, iface, member, sig string, body []byte) (*Decoder, error) {
	p, err := c.CallAsync(dest, path, iface, member, sig, body)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx)
}

// GetProperty reads one property via the standard property-read
// primitive and returns the decoded variant.
func (c *Conn) GetProperty(ctx context.Context, dest string, path ObjectPath, iface, name string) (Variant, error) {
	e := NewEncoder()
	e.WriteString(iface)
	e.WriteString(name)
	body, err := e.Bytes()
	if err != nil {
		return Variant{}, err
	}
	d, err := c.Call(ctx, dest, path, propertiesInterface, "Get", "ss", body)
	if err != nil {
		return Variant{}, err
	}
	v := d.ReadVariant()
	if err := d.Err(); err != nil {
		return Variant{}, err
	}
	return v, nil
}
