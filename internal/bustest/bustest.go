// Package bustest provides a scripted message-bus daemon speaking the
// real wire protocol over an in-memory pipe, for exercising the
// connection, call bridge and dispatcher without a system bus.
package bustest

import (
	"net"
	"sync"

	"github.com/kmw/bluewire/dbus"
)

// UniqueName is the bus name the fake daemon assigns in Hello replies.
const UniqueName = ":1.42"

// Handler produces the reply for one method call, or nil to withhold the
// reply (the test sends it later via Send, e.g. to reorder replies).
type Handler func(call *dbus.Message) *dbus.Message

// Server is one end of a pipe acting as the bus daemon. Hello, AddMatch
// and RemoveMatch work out of the box; everything else needs a Handle
// registration.
type Server struct {
	conn net.Conn

	mu       sync.Mutex
	serial   uint32
	handlers map[string]Handler
	rules    []string
}

// New starts a server and returns it together with the client transport
// to hand to dbus.NewConn.
func New() (*Server, net.Conn) {
	client, daemon := net.Pipe()
	s := &Server{
		conn:     daemon,
		handlers: make(map[string]Handler),
	}
	go s.serve()
	return s, client
}

// Handle registers the reply handler for one interface member.
func (s *Server) Handle(iface, member string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[iface+"."+member] = h
}

// Rules returns the currently installed match rules in insertion order.
func (s *Server) Rules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rules...)
}

// Send marshals and writes a message, assigning a serial if unset.
func (s *Server) Send(m *dbus.Message) error {
	s.mu.Lock()
	if m.Serial == 0 {
		s.serial++
		m.Serial = s.serial
	}
	s.mu.Unlock()
	buf, err := m.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Write(buf)
	return err
}

// Close tears the daemon side down, which surfaces as a transport
// failure on the client connection.
func (s *Server) Close() {
	s.conn.Close()
}

func (s *Server) serve() {
	for {
		call, err := dbus.ReadMessage(s.conn)
		if err != nil {
			return
		}
		if call.Type != dbus.TypeMethodCall {
			continue
		}
		if reply := s.handleCall(call); reply != nil {
			reply.ReplySerial = call.Serial
			_ = s.Send(reply)
		}
	}
}

func (s *Server) handleCall(call *dbus.Message) *dbus.Message {
	s.mu.Lock()
	h := s.handlers[call.Interface+"."+call.Member]
	s.mu.Unlock()
	if h != nil {
		return h(call)
	}

	switch call.Interface + "." + call.Member {
	case "org.freedesktop.DBus.Hello":
		return Reply("s", func(e *dbus.Encoder) { e.WriteString(UniqueName) })
	case "org.freedesktop.DBus.AddMatch":
		s.recordRule(call, true)
		return Reply("", nil)
	case "org.freedesktop.DBus.RemoveMatch":
		s.recordRule(call, false)
		return Reply("", nil)
	}
	return Error("org.freedesktop.DBus.Error.UnknownMethod", "no handler for "+call.Member)
}

func (s *Server) recordRule(call *dbus.Message, add bool) {
	d := dbus.NewDecoder(call.Body)
	rule := d.ReadString()
	if d.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.rules = append(s.rules, rule)
		return
	}
	for i, r := range s.rules {
		if r == rule {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// Reply builds a method-return message; enc fills the body.
func Reply(sig string, enc func(e *dbus.Encoder)) *dbus.Message {
	m := &dbus.Message{Type: dbus.TypeMethodReturn}
	if enc != nil {
		e := dbus.NewEncoder()
		enc(e)
		body, err := e.Bytes()
		if err != nil {
			panic(err)
		}
		m.Signature = sig
		m.Body = body
	}
	return m
}

// Error builds an error-reply message carrying the daemon message text.
func Error(name, message string) *dbus.Message {
	e := dbus.NewEncoder()
	e.WriteString(message)
	body, err := e.Bytes()
	if err != nil {
		panic(err)
	}
	return &dbus.Message{
		Type:      dbus.TypeError,
		ErrorName: name,
		Signature: "s",
		Body:      body,
	}
}

// PropertiesChanged builds the standard property-change signal for one
// path and interface. Each Prop writes its own value; Sig must match
// what Write produces.
func PropertiesChanged(path dbus.ObjectPath, iface string, props []Prop) *dbus.Message {
	e := dbus.NewEncoder()
	e.WriteString(iface)
	e.OpenContainer('a', "{sv}")
	for _, p := range props {
		e.OpenContainer('{', "sv")
		e.WriteString(p.Name)
		e.OpenContainer('v', p.Sig)
		p.Write(e)
		e.CloseContainer()
		e.CloseContainer()
	}
	e.CloseContainer()
	// Trailing invalidated-properties list, always empty here.
	e.OpenContainer('a', "s")
	e.CloseContainer()
	body, err := e.Bytes()
	if err != nil {
		panic(err)
	}
	return &dbus.Message{
		Type:      dbus.TypeSignal,
		Path:      path,
		Interface: "org.freedesktop.DBus.Properties",
		Member:    "PropertiesChanged",
		Sender:    UniqueName,
		Signature: "sa{sv}as",
		Body:      body,
	}
}

// Prop is one property entry for PropertiesChanged.
type Prop struct {
	Name  string
	Sig   string
	Write func(e *dbus.Encoder)
}

// Bytes is a Prop helper for 'ay' values.
func Bytes(name string, value []byte) Prop {
	return Prop{Name: name, Sig: "ay", Write: func(e *dbus.Encoder) { e.WriteBytes(value) }}
}

// Bool is a Prop helper for 'b' values.
func Bool(name string, value bool) Prop {
	return Prop{Name: name, Sig: "b", Write: func(e *dbus.Encoder) { e.WriteBool(value) }}
}
