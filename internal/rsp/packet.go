// Package rsp implements the GDB Remote Serial Protocol session (C5): the
// packet framing state machine, command dispatch against a debugwire
// engine, and the single-client TCP server loop. Everything here speaks
// the wire format GDB expects when it is pointed at `target remote`.
package rsp

import (
	"strconv"
	"strings"

	"github.com/example/dwire-gdb/internal/dwerr"
)

const hexDigits = "0123456789abcdef"

// checksum is the mod-256 sum of every byte in payload, as RSP defines it.
func checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	return sum
}

// encodePacket frames payload as "$payload#cc".
func encodePacket(payload string) string {
	var b strings.Builder
	b.WriteByte('$')
	b.WriteString(payload)
	b.WriteByte('#')
	cc := checksum(payload)
	b.WriteByte(hexDigits[cc>>4])
	b.WriteByte(hexDigits[cc&0xf])
	return b.String()
}

// parseHexDigit converts a single ASCII hex digit.
func parseHexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, dwerr.Newf(dwerr.Session, "not a hex digit: 0x%02x", b)
	}
}

// parseHexByte combines two ASCII hex digits into the byte they encode.
func parseHexByte(hi, lo byte) (byte, error) {
	h, err := parseHexDigit(hi)
	if err != nil {
		return 0, err
	}
	l, err := parseHexDigit(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

// encodeHex renders data as lowercase hex, two characters per byte.
func encodeHex(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) * 2)
	for _, c := range data {
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	return b.String()
}

// parseHexUint parses a bare (no "0x" prefix) hex field as RSP uses for
// addresses, lengths and breakpoint kinds.
func parseHexUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, dwerr.Newf(dwerr.Session, "malformed hex field %q", s)
	}
	return v, nil
}
