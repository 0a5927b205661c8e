// Package codec implements the framed, self-describing binary encoding used
// for FileStore persistence and the binary wire protocol. Every primitive is
// length- or tag-prefixed so a decoder can validate framing as it goes;
// encoding is deterministic, so round-tripping the same value always
// produces identical bytes.
package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/thought-machine/mvnwatch/src/mvnerr"
)

// Sentinel bytes used to tag encoded booleans. Using two distinct,
// non-adjacent byte values (rather than 0/1) catches accidental framing
// drift early: a decoder that's lost sync is far more likely to land on a
// zero or a length byte than on one of these.
const (
	boolTrue  byte = 0x12
	boolFalse byte = 0x34
)

const (
	presentByte byte = 1
	absentByte  byte = 0
)

// An Encoder accumulates a deterministic byte stream for the primitives
// BinaryCodec supports. The zero value is ready to use.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns a ready-to-use Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the accumulated encoded output.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Byte writes a single raw byte.
func (e *Encoder) Byte(b byte) {
	e.buf.WriteByte(b)
}

// Raw appends b verbatim, with no length prefix or other framing. Used to
// splice in a payload that was itself built with a separate Encoder (e.g.
// FileStore's tagged records).
func (e *Encoder) Raw(b []byte) {
	e.buf.Write(b)
}

// Short writes a big-endian 16-bit integer.
func (e *Encoder) Short(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	e.buf.Write(b[:])
}

// Int writes a big-endian 32-bit integer.
func (e *Encoder) Int(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.buf.Write(b[:])
}

// Long writes a big-endian 64-bit integer.
func (e *Encoder) Long(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

// Uint64 writes a big-endian unsigned 64-bit integer. Used for FileStore's
// magic numbers, which don't fit in a signed int64.
func (e *Encoder) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// Double writes the IEEE-754 bit pattern of a float64.
func (e *Encoder) Double(v float64) {
	e.Long(int64(math.Float64bits(v)))
}

// Bool writes a boolean using the 0x12/0x34 sentinel bytes.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf.WriteByte(boolTrue)
	} else {
		e.buf.WriteByte(boolFalse)
	}
}

// String writes a nullable, length-prefixed UTF-8 string.
func (e *Encoder) String(s *string) {
	if s == nil {
		e.buf.WriteByte(absentByte)
		return
	}
	e.buf.WriteByte(presentByte)
	e.byteSlice([]byte(*s))
}

// ByteSlice writes a nullable, length-prefixed byte array.
func (e *Encoder) ByteSlice(b []byte) {
	if b == nil {
		e.buf.WriteByte(absentByte)
		return
	}
	e.buf.WriteByte(presentByte)
	e.byteSlice(b)
}

func (e *Encoder) byteSlice(b []byte) {
	e.Int(int32(len(b)))
	e.buf.Write(b)
}

// Timestamp writes a nullable timestamp as (present flag, zone id, epoch millis).
func (e *Encoder) Timestamp(t *time.Time, zone string) {
	if t == nil {
		e.buf.WriteByte(absentByte)
		return
	}
	e.buf.WriteByte(presentByte)
	z := zone
	e.String(&z)
	e.Long(t.UnixMilli())
}

// Date writes a nullable date-only value as (present flag, epoch millis).
func (e *Encoder) Date(t *time.Time) {
	if t == nil {
		e.buf.WriteByte(absentByte)
		return
	}
	e.buf.WriteByte(presentByte)
	e.Long(t.UnixMilli())
}

// A Decoder reads back values written by Encoder, validating framing at
// every step and tracking its offset for diagnostics.
type Decoder struct {
	data   []byte
	offset int
}

// NewDecoder wraps data for reading.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Offset returns the current read position, useful when a DecodeError is
// reported and the caller wants to know roughly where in the stream it hit.
func (d *Decoder) Offset() int {
	return d.offset
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.offset
}

func (d *Decoder) require(n int) error {
	if d.Remaining() < n {
		return mvnerr.New(mvnerr.Decode, "unexpected EOF at offset %d: need %d bytes, have %d", d.offset, n, d.Remaining())
	}
	return nil
}

// Skip advances the read position by n bytes without interpreting them.
func (d *Decoder) Skip(n int) error {
	if err := d.require(n); err != nil {
		return err
	}
	d.offset += n
	return nil
}

// Byte reads a single raw byte.
func (d *Decoder) Byte() (byte, error) {
	if err := d.require(1); err != nil {
		return 0, err
	}
	b := d.data[d.offset]
	d.offset++
	return b, nil
}

// Short reads a big-endian 16-bit integer.
func (d *Decoder) Short() (int16, error) {
	if err := d.require(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(d.data[d.offset:]))
	d.offset += 2
	return v, nil
}

// Int reads a big-endian 32-bit integer.
func (d *Decoder) Int() (int32, error) {
	if err := d.require(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(d.data[d.offset:]))
	d.offset += 4
	return v, nil
}

// Long reads a big-endian 64-bit integer.
func (d *Decoder) Long() (int64, error) {
	if err := d.require(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(d.data[d.offset:]))
	d.offset += 8
	return v, nil
}

// Uint64 reads a big-endian unsigned 64-bit integer.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.require(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.data[d.offset:])
	d.offset += 8
	return v, nil
}

// Double reads an IEEE-754 float64.
func (d *Decoder) Double() (float64, error) {
	v, err := d.Long()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// Bool reads a boolean, failing decode if the tag byte is neither sentinel.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.Byte()
	if err != nil {
		return false, err
	}
	switch b {
	case boolTrue:
		return true, nil
	case boolFalse:
		return false, nil
	default:
		return false, mvnerr.New(mvnerr.Decode, "bad boolean tag 0x%02x at offset %d", b, d.offset-1)
	}
}

// String reads a nullable, length-prefixed UTF-8 string.
func (d *Decoder) String() (*string, error) {
	present, err := d.presence()
	if err != nil || !present {
		return nil, err
	}
	b, err := d.byteSlice()
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ByteSlice reads a nullable, length-prefixed byte array.
func (d *Decoder) ByteSlice() ([]byte, error) {
	present, err := d.presence()
	if err != nil || !present {
		return nil, err
	}
	return d.byteSlice()
}

func (d *Decoder) byteSlice() ([]byte, error) {
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, mvnerr.New(mvnerr.Decode, "negative length %d at offset %d", n, d.offset-4)
	}
	if err := d.require(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.data[d.offset:d.offset+int(n)])
	d.offset += int(n)
	return b, nil
}

func (d *Decoder) presence() (bool, error) {
	b, err := d.Byte()
	if err != nil {
		return false, err
	}
	switch b {
	case presentByte:
		return true, nil
	case absentByte:
		return false, nil
	default:
		return false, mvnerr.New(mvnerr.Decode, "bad presence tag 0x%02x at offset %d", b, d.offset-1)
	}
}

// Timestamp reads a nullable timestamp, returning the decoded time (UTC) and
// its recorded zone id.
func (d *Decoder) Timestamp() (*time.Time, string, error) {
	present, err := d.presence()
	if err != nil || !present {
		return nil, "", err
	}
	zone, err := d.String()
	if err != nil {
		return nil, "", err
	}
	millis, err := d.Long()
	if err != nil {
		return nil, "", err
	}
	t := time.UnixMilli(millis).UTC()
	z := ""
	if zone != nil {
		z = *zone
	}
	return &t, z, nil
}

// Date reads a nullable date-only value.
func (d *Decoder) Date() (*time.Time, error) {
	present, err := d.presence()
	if err != nil || !present {
		return nil, err
	}
	millis, err := d.Long()
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(millis).UTC()
	return &t, nil
}
