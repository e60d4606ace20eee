package coap

import (
	"encoding/binary"
	"errors"
)

// MaxOptionsNumber bounds the number of options a decoded message may
// carry; a lower cap is configurable at the Engine level via
// WithCoAPMaxOptionsNumber, this is the compile-time ceiling referenced by spec.md §4.1 ("Option
// count bounded by a compile-time constant").
const MaxOptionsNumber = 64

var (
	ErrTooSmall        = errors.New("coap: buffer too small")
	ErrOptionsOverflow = errors.New("coap: option count or delta/length overflow")
	ErrMalformed       = errors.New("coap: malformed message")
	ErrUnsupportedVersion = errors.New("coap: unsupported version")
)

// Encode serializes msg into buf, per RFC 7252 §3, returning the number of
// bytes written. Options must already be in Options' maintained ascending
// order; Encode computes deltas from that order.
func Encode(msg *Message, buf []byte) (int, error) {
	if msg.Token.Len > MaxTokenLen {
		return 0, ErrOptionsOverflow
	}
	headerLen := 4 + int(msg.Token.Len)
	if len(buf) < headerLen {
		return 0, ErrTooSmall
	}

	version := msg.Version
	if version == 0 {
		version = DefaultVersion
	}
	buf[0] = byte(version)<<6 | byte(msg.Type)<<4 | byte(msg.Token.Len)
	buf[1] = byte(msg.Code)
	binary.BigEndian.PutUint16(buf[2:4], msg.MsgID)
	n := 4
	n += copy(buf[n:], msg.Token.Slice())

	if len(msg.Opts) > MaxOptionsNumber {
		return 0, ErrOptionsOverflow
	}

	var lastNum OptionNumber
	for _, opt := range msg.Opts {
		if opt.Number < lastNum {
			return 0, ErrOptionsOverflow // caller violated ascending order invariant
		}
		delta := int(opt.Number - lastNum)
		lastNum = opt.Number
		length := len(opt.Value)

		deltaNibble, deltaExt, deltaExtLen := splitOptionField(delta)
		lenNibble, lenExt, lenExtLen := splitOptionField(length)
		need := 1 + deltaExtLen + lenExtLen + length
		if len(buf)-n < need {
			return 0, ErrTooSmall
		}
		buf[n] = byte(deltaNibble<<4 | lenNibble)
		n++
		n += putExt(buf[n:], deltaExt, deltaExtLen)
		n += putExt(buf[n:], lenExt, lenExtLen)
		n += copy(buf[n:], opt.Value)
	}

	if len(msg.Payload) > 0 {
		if len(buf)-n < 1+len(msg.Payload) {
			return 0, ErrTooSmall
		}
		buf[n] = 0xFF
		n++
		n += copy(buf[n:], msg.Payload)
	}
	return n, nil
}

// splitOptionField encodes an option delta or length per RFC 7252 §3.1's
// extended-value scheme: nibble values 13/14 signal a 1- or 2-byte
// extension carrying (value-offset); 15 is reserved (payload marker) and
// never produced here since MaxOptionsNumber and per-option length caps
// keep values below 65535+269.
func splitOptionField(v int) (nibble int, ext uint16, extLen int) {
	switch {
	case v < 13:
		return v, 0, 0
	case v < 269:
		return 13, uint16(v - 13), 1
	default:
		return 14, uint16(v - 269), 2
	}
}

func putExt(buf []byte, ext uint16, extLen int) int {
	switch extLen {
	case 0:
		return 0
	case 1:
		buf[0] = byte(ext)
		return 1
	case 2:
		binary.BigEndian.PutUint16(buf[:2], ext)
		return 2
	}
	return 0
}

// Decode parses a CoAP message from raw bytes.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 4 {
		return nil, ErrMalformed
	}
	version := Uint2(raw[0] >> 6)
	if version != DefaultVersion {
		return nil, ErrUnsupportedVersion
	}
	msg := &Message{
		Version: version,
		Type:    Type((raw[0] >> 4) & 0x3),
		Code:    Code(raw[1]),
		MsgID:   binary.BigEndian.Uint16(raw[2:4]),
	}
	tokenLen := int(raw[0] & 0xF)
	if tokenLen > MaxTokenLen {
		return nil, ErrMalformed
	}
	n := 4
	if len(raw)-n < tokenLen {
		return nil, ErrMalformed
	}
	tv, ok := TokenFrom(raw[n : n+tokenLen])
	if !ok {
		return nil, ErrMalformed
	}
	msg.Token = tv
	n += tokenLen

	var lastNum OptionNumber
	for n < len(raw) {
		if raw[n] == 0xFF {
			n++
			msg.Payload = raw[n:]
			return msg, nil
		}
		deltaNibble := int(raw[n] >> 4)
		lenNibble := int(raw[n] & 0xF)
		n++

		delta, n2, err := readExt(raw, n, deltaNibble)
		if err != nil {
			return nil, err
		}
		n = n2
		length, n3, err := readExt(raw, n, lenNibble)
		if err != nil {
			return nil, err
		}
		n = n3

		if len(raw)-n < length {
			return nil, ErrMalformed
		}
		num := lastNum + OptionNumber(delta)
		lastNum = num
		if len(msg.Opts) >= MaxOptionsNumber {
			return nil, ErrOptionsOverflow
		}
		value := append([]byte(nil), raw[n:n+length]...)
		msg.Opts = append(msg.Opts, Option{Number: num, Value: value})
		n += length
	}
	return msg, nil
}

func readExt(raw []byte, n, nibble int) (value, newN int, err error) {
	switch nibble {
	case 13:
		if len(raw)-n < 1 {
			return 0, 0, ErrMalformed
		}
		return int(raw[n]) + 13, n + 1, nil
	case 14:
		if len(raw)-n < 2 {
			return 0, 0, ErrMalformed
		}
		return int(binary.BigEndian.Uint16(raw[n:n+2])) + 269, n + 2, nil
	case 15:
		return 0, 0, ErrMalformed // reserved for the payload marker
	default:
		return nibble, n, nil
	}
}
