// Package wire implements the echo-aware transport (C2): debugWire is
// electrically half-duplex over a single pin, exposed by the USB-to-TTL
// adapter as a full-duplex UART looped back through the target. Every
// byte the host transmits reappears in its own receive queue a moment
// later (the "echo"). Transport consumes that echo and verifies it
// byte-for-byte so the rest of the system sees a clean request/response
// channel instead of having to reason about the loopback.
package wire

import (
	"encoding/binary"

	"github.com/example/dwire-gdb/internal/dwerr"
	"github.com/example/dwire-gdb/internal/trace"
)

// lineDriver is the subset of *serial.Port the transport needs. Kept as
// an interface so tests can substitute a mock line without opening a
// real TTY.
type lineDriver interface {
	WriteAll([]byte) error
	ReadExact([]byte) error
	Flush() error
	SendBreak() error
	Close() error
	Fd() int
}

// Transport wraps a lineDriver with debugWire's echo-verification and
// BREAK/sign-on handling.
type Transport struct {
	line  lineDriver
	trace *trace.Tracer
}

// New wraps line. A nil tracer disables tracing.
func New(line lineDriver, tr *trace.Tracer) *Transport {
	if tr == nil {
		tr = trace.Disabled()
	}
	return &Transport{line: line, trace: tr}
}

// Write sends bytes, then consumes and verifies their echo. After Write
// returns nil, the receive queue holds only target-originated data.
func (t *Transport) Write(bytes []byte) error {
	if err := t.line.WriteAll(bytes); err != nil {
		return err
	}
	for _, b := range bytes {
		t.trace.Out(b)
	}

	echo := make([]byte, len(bytes))
	if err := t.line.ReadExact(echo); err != nil {
		return err
	}
	for i, b := range bytes {
		if echo[i] != b {
			return dwerr.Newf(dwerr.Transport,
				"Got unexpected byte echoed back. Expected 0x%02x, got 0x%02x", b, echo[i])
		}
	}
	return nil
}

// Close releases the underlying line.
func (t *Transport) Close() error {
	return t.line.Close()
}

// Fd exposes the underlying line's file descriptor, for the session
// layer's two-fd readiness wait during a free-running target.
func (t *Transport) Fd() int {
	return t.line.Fd()
}

// WriteByte is a convenience wrapper around Write for a single byte.
func (t *Transport) WriteByte(b byte) error {
	return t.Write([]byte{b})
}

// Read reads n target-originated bytes with no echo phase. Used after a
// Write whose echo has already been consumed, to read the target's
// actual response payload.
func (t *Transport) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := t.line.ReadExact(buf); err != nil {
		return nil, err
	}
	for _, b := range buf {
		t.trace.In(b)
	}
	return buf, nil
}

// ReadByte reads a single target-originated byte.
func (t *Transport) ReadByte() (byte, error) {
	buf, err := t.Read(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadWordBE reads a 16-bit big-endian target-originated value.
func (t *Transport) ReadWordBE() (uint16, error) {
	buf, err := t.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// isIdle reports whether b is one of the values that appear as line-idle
// garbage around the BREAK edge and are discarded while waiting for the
// target's sign-on byte.
func isIdle(b byte) bool {
	return b == 0x00 || b == 0xff
}

// Sync waits for the target's fixed 0x55 sign-on byte, discarding any
// leading idle garbage. The target emits this sequence on its own after
// a reset completes, after a single-step auto-halt, and when a hardware
// breakpoint hits; the BREAK it drives on the line arrives here as idle
// bytes in front of the sign-on.
func (t *Transport) Sync() error {
	for {
		b, err := t.ReadByte()
		if err != nil {
			return err
		}
		if isIdle(b) {
			continue
		}
		if b != 0x55 {
			return dwerr.Newf(dwerr.Protocol, "Bad break sent from MCU. Expected 0x55, got 0x%02x", b)
		}
		return nil
	}
}

// BreakAndSync asserts a debugWire BREAK and waits for the target's
// sign-on response. Used at session start and to interrupt a
// free-running target on the debugger's behalf.
func (t *Transport) BreakAndSync() error {
	if err := t.line.SendBreak(); err != nil {
		return err
	}
	return t.Sync()
}
