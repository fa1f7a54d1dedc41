package records

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"postage/pkg/domain"
)

// TagSize is the length of the type tag that prefixes every encoded record.
const TagSize = 8

var (
	ErrTypeMismatch   = errors.New("record type tag mismatch")
	ErrTruncated      = errors.New("record data truncated")
	ErrRecordTooLarge = errors.New("record exceeds its declared size")
	ErrInvalidString  = errors.New("record string is not valid utf-8")
)

// Record is a typed value persisted in the data of a ledger account.
type Record interface {
	// Kind names the record type. Its hash forms the type tag.
	Kind() string
	// Size is the maximum encoded length excluding the tag.
	Size() int

	encode(e *encoder)
	decode(d *decoder)
}

// Tag returns the 8-byte discriminator for kind.
func Tag(kind string) [TagSize]byte {
	sum := sha256.Sum256([]byte("account:" + kind))
	var tag [TagSize]byte
	copy(tag[:], sum[:TagSize])
	return tag
}

// Encode renders rec as tag followed by its little-endian body.
func Encode(rec Record) ([]byte, error) {
	tag := Tag(rec.Kind())
	e := &encoder{buf: make([]byte, 0, TagSize+rec.Size())}
	e.buf = append(e.buf, tag[:]...)
	rec.encode(e)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.buf)-TagSize > rec.Size() {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrRecordTooLarge, rec.Kind(), len(e.buf)-TagSize, rec.Size())
	}
	return e.buf, nil
}

// Decode parses data into rec after checking the type tag.
func Decode(data []byte, rec Record) error {
	if len(data) < TagSize {
		return ErrTruncated
	}
	tag := Tag(rec.Kind())
	if [TagSize]byte(data[:TagSize]) != tag {
		return fmt.Errorf("%w: expected %s", ErrTypeMismatch, rec.Kind())
	}
	d := &decoder{buf: data[TagSize:]}
	rec.decode(d)
	return d.err
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) key(k domain.PublicKey) {
	e.buf = append(e.buf, k[:]...)
}

func (e *encoder) str(s string) {
	if !utf8.ValidString(s) {
		e.err = ErrInvalidString
		return
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrTruncated
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) key() domain.PublicKey {
	var k domain.PublicKey
	if b := d.take(domain.KeySize); b != nil {
		copy(k[:], b)
	}
	return k
}

func (d *decoder) str() string {
	b := d.take(4)
	if b == nil {
		return ""
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(len(d.buf)) {
		d.err = ErrTruncated
		return ""
	}
	raw := d.take(int(n))
	if !utf8.Valid(raw) {
		d.err = ErrInvalidString
		return ""
	}
	return string(raw)
}
