package ledger

import (
	"encoding/binary"
	"errors"
)

var errShortBuffer = errors.New("buffer too short")

// Tag8 converts an ASCII tag of at most 8 characters into a fixed discriminator.
func Tag8(s string) [8]byte {
	if len(s) > 8 {
		panic("ledger: tag longer than 8 bytes: " + s)
	}
	var t [8]byte
	copy(t[:], s)
	return t
}

type encoder struct {
	buf []byte
}

func (e *encoder) bytes(b []byte) *encoder { e.buf = append(e.buf, b...); return e }

func (e *encoder) u8(v uint8) *encoder { e.buf = append(e.buf, v); return e }

func (e *encoder) bool(v bool) *encoder {
	if v {
		return e.u8(1)
	}
	return e.u8(0)
}

func (e *encoder) u16(v uint16) *encoder { e.buf = binary.LittleEndian.AppendUint16(e.buf, v); return e }

func (e *encoder) u32(v uint32) *encoder { e.buf = binary.LittleEndian.AppendUint32(e.buf, v); return e }

func (e *encoder) u64(v uint64) *encoder { e.buf = binary.LittleEndian.AppendUint64(e.buf, v); return e }

// decoder reads little-endian fields and remembers the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err == nil && len(d.buf) < n {
		d.err = errShortBuffer
	}
	if d.err != nil {
		// Zero placeholder for fixed-size reads; variable reads get nothing.
		if n > 32 {
			return nil
		}
		return make([]byte, n)
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) fixed32() (out [32]byte) { copy(out[:], d.take(32)); return }

func (d *decoder) fixed8() (out [8]byte) { copy(out[:], d.take(8)); return }

func (d *decoder) varBytes(n int) []byte { return append([]byte(nil), d.take(n)...) }

func (d *decoder) u8() uint8 { return d.take(1)[0] }

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }

func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }

func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }

func (d *decoder) remaining() int { return len(d.buf) }
