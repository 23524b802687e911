package dbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message type codes.
const (
	TypeMethodCall   = 1
	TypeMethodReturn = 2
	TypeError        = 3
	TypeSignal       = 4
)

// Header field codes.
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrorName   = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
)

const (
	byteOrderLittle = 'l'
	protoVersion    = 1
)

// Message is one wire message: the parsed header fields plus the raw,
// still-encoded body. Its lifetime is bounded by the call or signal
// delivery that produced it; the codec never retains one beyond that
// scope.
type Message struct {
	Type        byte
	Serial      uint32
	ReplySerial uint32
	Path        ObjectPath
	Interface   string
	Member      string
	Destination string
	Sender      string
	ErrorName   string
	Signature   string
	Body        []byte
}

// Marshal encodes the message for the wire: fixed header, header field
// array, padding to the 8-byte body boundary, body.
func (m *Message) Marshal() ([]byte, error) {
	e := NewEncoder()
	e.WriteByte(byteOrderLittle)
	e.WriteByte(m.Type)
	e.WriteByte(0) // flags
	e.WriteByte(protoVersion)
	e.WriteUint32(uint32(len(m.Body)))
	e.WriteUint32(m.Serial)

	e.OpenContainer('a', "(yv)")
	if m.Path != "" {
		m.headerField(e, fieldPath, 'o', string(m.Path))
	}
	if m.Interface != "" {
		m.headerField(e, fieldInterface, 's', m.Interface)
	}
	if m.Member != "" {
		m.headerField(e, fieldMember, 's', m.Member)
	}
	if m.ErrorName != "" {
		m.headerField(e, fieldErrorName, 's', m.ErrorName)
	}
	if m.Type == TypeMethodReturn || m.Type == TypeError {
		e.OpenContainer('(', "")
		e.WriteByte(fieldReplySerial)
		e.WriteSignature("u")
		e.WriteUint32(m.ReplySerial)
		e.CloseContainer()
	}
	if m.Destination != "" {
		m.headerField(e, fieldDestination, 's', m.Destination)
	}
	if m.Sender != "" {
		m.headerField(e, fieldSender, 's', m.Sender)
	}
	if m.Signature != "" {
		m.headerField(e, fieldSignature, 'g', m.Signature)
	}
	e.CloseContainer()

	e.align(8)
	buf, err := e.Bytes()
	if err != nil {
		return nil, err
	}
	return append(buf, m.Body...), nil
}

func (m *Message) headerField(e *Encoder, code byte, tag byte, value string) {
	e.OpenContainer('(', "")
	e.WriteByte(code)
	switch tag {
	case 'g':
		e.WriteSignature("g")
		e.WriteSignature(value)
	default:
		e.WriteSignature(string(tag))
		e.WriteString(value)
	}
	e.CloseContainer()
}

// ReadMessage reads and parses exactly one message from r. Only
// little-endian messages are accepted.
func ReadMessage(r io.Reader) (*Message, error) {
	// Fixed header: order, type, flags, version, body len, serial, field array len.
	h := make([]byte, 16)
	if _, err := io.ReadFull(r, h); err != nil {
		return nil, err
	}
	if h[0] != byteOrderLittle {
		return nil, &FatalError{Op: "read", Err: fmt.Errorf("unsupported byte order %q", h[0])}
	}
	m := &Message{
		Type:   h[1],
		Serial: binary.LittleEndian.Uint32(h[8:12]),
	}
	bodyLen := binary.LittleEndian.Uint32(h[4:8])
	fieldsLen := binary.LittleEndian.Uint32(h[12:16])

	fields := make([]byte, fieldsLen)
	if _, err := io.ReadFull(r, fields); err != nil {
		return nil, err
	}
	if err := m.parseHeaderFields(fields); err != nil {
		return nil, err
	}

	// Header is padded so the body starts on an 8-byte boundary.
	if pad := (8 - (16+int(fieldsLen))%8) % 8; pad > 0 {
		if _, err := io.ReadFull(r, make([]byte, pad)); err != nil {
			return nil, err
		}
	}

	if bodyLen > 0 {
		m.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, m.Body); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Message) parseHeaderFields(fields []byte) error {
	d := NewDecoder(fields)
	for d.Remaining() > 0 {
		d.EnterStruct()
		if d.Remaining() == 0 {
			break
		}
		code := d.ReadByte()
		sig := d.ReadSignature()
		switch code {
		case fieldPath:
			m.Path = d.ReadObjectPath()
		case fieldInterface:
			m.Interface = d.ReadString()
		case fieldMember:
			m.Member = d.ReadString()
		case fieldErrorName:
			m.ErrorName = d.ReadString()
		case fieldReplySerial:
			m.ReplySerial = d.ReadUint32()
		case fieldDestination:
			m.Destination = d.ReadString()
		case fieldSender:
			m.Sender = d.ReadString()
		case fieldSignature:
			m.Signature = d.ReadSignature()
		default:
			d.Skip(sig)
		}
	}
	return d.Err()
}
