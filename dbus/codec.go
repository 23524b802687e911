package dbus

import (
	"encoding/binary"
	"fmt"
)

// Decoder is a read cursor over one wire message body. It is borrowed for
// the duration of one decode and never retained beyond the call or signal
// delivery that produced it.
//
// Errors are sticky: the first structural violation marks the decoder
// failed and every later read is a no-op returning zero values. Callers
// check Err once after a decode sequence instead of after every read.
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder returns a decoder positioned at the start of body.
func NewDecoder(body []byte) *Decoder {
	return &Decoder{buf: body}
}

// Err returns the first structural violation encountered, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of undecoded bytes.
func (d *Decoder) Remaining() int {
	if d.pos > len(d.buf) {
		return 0
	}
	return len(d.buf) - d.pos
}

func (d *Decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = &FatalError{Op: "decode", Err: fmt.Errorf(format, args...)}
	}
}

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.buf) {
		d.fail("truncated message: need %d bytes at offset %d of %d", n, d.pos, len(d.buf))
		return false
	}
	return true
}

func (d *Decoder) align(n int) {
	if d.err != nil {
		return
	}
	for d.pos%n != 0 {
		if !d.need(1) {
			return
		}
		d.pos++
	}
}

// ReadByte reads a single 'y' value.
func (d *Decoder) ReadByte() byte {
	if !d.need(1) {
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

// ReadUint32 reads a 'u' value.
func (d *Decoder) ReadUint32() uint32 {
	d.align(4)
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

// ReadInt16 reads an 'n' value, sign-extended.
func (d *Decoder) ReadInt16() int16 {
	d.align(2)
	if !d.need(2) {
		return 0
	}
	v := int16(binary.LittleEndian.Uint16(d.buf[d.pos:]))
	d.pos += 2
	return v
}

// ReadBool reads a 'b' value. Any nonzero word decodes as true.
func (d *Decoder) ReadBool() bool {
	return d.ReadUint32() != 0
}

// ReadString reads an 's' value: uint32 length, bytes, NUL.
func (d *Decoder) ReadString() string {
	n := int(d.ReadUint32())
	if !d.need(n + 1) {
		return ""
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n + 1
	return s
}

// ReadObjectPath reads an 'o' value.
func (d *Decoder) ReadObjectPath() ObjectPath {
	return ObjectPath(d.ReadString())
}

// ReadSignature reads a 'g' value: uint8 length, bytes, NUL.
func (d *Decoder) ReadSignature() string {
	if !d.need(1) {
		return ""
	}
	n := int(d.buf[d.pos])
	d.pos++
	if !d.need(n + 1) {
		return ""
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n + 1
	return s
}

// ReadBytes reads an 'ay' value and returns a copy of the payload, so the
// caller may keep it past the lifetime of the message buffer.
func (d *Decoder) ReadBytes() []byte {
	n := int(d.ReadUint32())
	if !d.need(n) {
		return nil
	}
	p := make([]byte, n)
	copy(p, d.buf[d.pos:d.pos+n])
	d.pos += n
	return p
}

// ReadVariant reads a 'v' value: the carried signature first, then the
// payload decoded recursively under that signature.
func (d *Decoder) ReadVariant() Variant {
	sig := d.ReadSignature()
	return Variant{Sig: sig, Value: d.ReadValue(sig)}
}

// ReadValue decodes one value of the given type. Only the types the
// Bluetooth management surface uses are supported; any other tag is a
// structural defect and fails the decoder. Use Skip to step over values
// of types that do not need decoding.
func (d *Decoder) ReadValue(sig string) any {
	if d.err != nil {
		return nil
	}
	switch sig {
	case "y":
		return d.ReadByte()
	case "b":
		return d.ReadBool()
	case "n":
		return d.ReadInt16()
	case "s":
		return d.ReadString()
	case "o":
		return d.ReadObjectPath()
	case "ay":
		return d.ReadBytes()
	case "as":
		limit := d.EnterArray("s")
		var out []string
		for d.More(limit) {
			out = append(out, d.ReadString())
		}
		return out
	case "a{sv}":
		limit := d.EnterArray("{sv}")
		out := make(map[string]Variant)
		for d.More(limit) {
			d.EnterStruct()
			name := d.ReadString()
			out[name] = d.ReadVariant()
		}
		return out
	case "v":
		return d.ReadVariant()
	default:
		d.fail("unsupported wire type %q", sig)
		return nil
	}
}

// EnterArray reads the array length for an array with the given element
// signature, aligns to the first element and returns the offset at which
// the array ends. Iterate with More:
//
//	limit := d.EnterArray("{sv}")
//	for d.More(limit) {
//		d.EnterStruct()
//		...
//	}
//
// An empty array yields a limit equal to the current position, so the
// loop body runs zero times; the enter/exit pairing still holds.
func (d *Decoder) EnterArray(elem string) int {
	n := int(d.ReadUint32())
	d.align(alignOf(elem))
	if d.err != nil {
		return d.pos
	}
	limit := d.pos + n
	if limit > len(d.buf) {
		d.fail("array of %d bytes overruns message (%d remaining)", n, d.Remaining())
		return d.pos
	}
	return limit
}

// More reports whether the cursor is still inside an array entered with
// EnterArray. It returns false once the decoder has failed, so a decode
// loop terminates on the first structural violation.
func (d *Decoder) More(limit int) bool {
	return d.err == nil && d.pos < limit
}

// EnterStruct aligns the cursor to the 8-byte boundary that starts a
// struct or dict-entry.
func (d *Decoder) EnterStruct() {
	d.align(8)
}

// Skip advances the cursor past one sequence of complete types without
// decoding the values. Unlike ReadValue it handles the full signature
// grammar, which keeps the cursor synchronized when walking dictionaries
// whose entries carry types this package does not decode.
func (d *Decoder) Skip(sig string) {
	for sig != "" && d.err == nil {
		t, err := firstType(sig)
		if err != nil {
			d.fail("bad signature %q: %v", sig, err)
			return
		}
		d.skipOne(t)
		sig = sig[len(t):]
	}
}

func (d *Decoder) skipOne(t string) {
	switch t[0] {
	case 'y':
		if d.need(1) {
			d.pos++
		}
	case 'n', 'q':
		d.align(2)
		if d.need(2) {
			d.pos += 2
		}
	case 'b', 'i', 'u', 'h':
		d.align(4)
		if d.need(4) {
			d.pos += 4
		}
	case 'x', 't', 'd':
		d.align(8)
		if d.need(8) {
			d.pos += 8
		}
	case 's', 'o':
		d.ReadString()
	case 'g':
		d.ReadSignature()
	case 'v':
		d.Skip(d.ReadSignature())
	case 'a':
		n := int(d.ReadUint32())
		d.align(alignOf(t[1:]))
		if d.need(n) {
			d.pos += n
		}
	case '(', '{':
		d.align(8)
		d.Skip(t[1 : len(t)-1])
	default:
		d.fail("unsupported wire type %q", t)
	}
}

// Encoder builds one wire message body (or header) under construction.
// Container opens are tracked on an explicit stack; Bytes refuses to
// finalize while a container is still open, which enforces the
// open/close pairing even for empty containers.
type Encoder struct {
	buf    []byte
	frames []encFrame
	err    error
}

type encFrame struct {
	kind   byte
	lenOff int // offset of the u32 length placeholder, arrays only
	start  int // offset of the first element byte, arrays only
}

// NewEncoder returns an empty encoder. Offsets are relative to the body
// start, which the message header pads to an 8-byte boundary, so
// body-relative alignment equals wire alignment.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes finalizes and returns the encoded payload.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.frames) > 0 {
		return nil, &FatalError{Op: "encode", Err: fmt.Errorf("%d container(s) left open", len(e.frames))}
	}
	return e.buf, nil
}

func (e *Encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = &FatalError{Op: "encode", Err: fmt.Errorf(format, args...)}
	}
}

func (e *Encoder) align(n int) {
	for len(e.buf)%n != 0 {
		e.buf = append(e.buf, 0)
	}
}

// WriteByte writes a 'y' value.
func (e *Encoder) WriteByte(v byte) {
	e.buf = append(e.buf, v)
}

// WriteUint32 writes a 'u' value.
func (e *Encoder) WriteUint32(v uint32) {
	e.align(4)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// WriteInt16 writes an 'n' value.
func (e *Encoder) WriteInt16(v int16) {
	e.align(2)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v))
}

// WriteBool writes a 'b' value, strictly as 0 or 1.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteUint32(1)
	} else {
		e.WriteUint32(0)
	}
}

// WriteString writes an 's' value.
func (e *Encoder) WriteString(s string) {
	e.WriteUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// WriteObjectPath writes an 'o' value.
func (e *Encoder) WriteObjectPath(p ObjectPath) {
	e.WriteString(string(p))
}

// WriteSignature writes a 'g' value.
func (e *Encoder) WriteSignature(s string) {
	if len(s) > 255 {
		e.fail("signature too long: %d bytes", len(s))
		return
	}
	e.buf = append(e.buf, byte(len(s)))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// WriteBytes writes an 'ay' value: length and payload in one step.
func (e *Encoder) WriteBytes(p []byte) {
	e.WriteUint32(uint32(len(p)))
	e.buf = append(e.buf, p...)
}

// OpenContainer starts a container of the given kind: 'a' with the
// element signature, 'v' with the carried signature, or '{' / '(' for a
// dict-entry or struct (contents ignored). Every open must be matched by
// CloseContainer, even when the payload is empty: an operation with no
// auxiliary options still writes an empty dictionary because the wire
// protocol requires the argument to be present.
func (e *Encoder) OpenContainer(kind byte, contents string) {
	if e.err != nil {
		return
	}
	switch kind {
	case 'a':
		e.align(4)
		lenOff := len(e.buf)
		e.buf = append(e.buf, 0, 0, 0, 0)
		e.align(alignOf(contents))
		e.frames = append(e.frames, encFrame{kind: kind, lenOff: lenOff, start: len(e.buf)})
	case 'v':
		e.WriteSignature(contents)
		e.frames = append(e.frames, encFrame{kind: kind})
	case '{', '(':
		e.align(8)
		e.frames = append(e.frames, encFrame{kind: kind})
	default:
		e.fail("unsupported container kind %q", kind)
	}
}

// CloseContainer closes the innermost open container, patching the array
// length for 'a' containers.
func (e *Encoder) CloseContainer() {
	if e.err != nil {
		return
	}
	if len(e.frames) == 0 {
		e.fail("close without matching open")
		return
	}
	f := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if f.kind == 'a' {
		binary.LittleEndian.PutUint32(e.buf[f.lenOff:], uint32(len(e.buf)-f.start))
	}
}
