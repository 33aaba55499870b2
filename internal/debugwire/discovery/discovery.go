// Package discovery implements baud-rate discovery and device
// identification (C3): probing candidate baud rates via BREAK/response,
// and matching the target's 16-bit debugWire signature against the
// compile-time device table.
package discovery

import (
	"time"

	"github.com/example/dwire-gdb/internal/debugwire/wire"
	"github.com/example/dwire-gdb/internal/dwerr"
	"github.com/example/dwire-gdb/internal/serial"
	"github.com/example/dwire-gdb/internal/trace"
)

// Device is the immutable descriptor the engine needs for a given MCU:
// its debugWire signature and the I/O-space address of its SPMCSR
// register (needed to read fuses via LPM).
type Device struct {
	Name      string
	Signature uint16
	SPMCSR    uint8
}

// devices is the compile-time, linearly-searched device table: the
// common debugWire-capable AVRs, with signature and SPMCSR address
// taken from the datasheets.
var devices = []Device{
	{"ATtiny13", 0x9007, 0x37},
	{"ATtiny13A", 0x9007, 0x37},
	{"ATtiny2313", 0x910a, 0x37},
	{"ATtiny2313A", 0x910a, 0x37},
	{"ATtiny4313", 0x920d, 0x37},
	{"ATtiny84", 0x930c, 0x37},
	{"ATtiny85", 0x930b, 0x37},
	{"ATmega48", 0x9205, 0x37},
	{"ATmega88", 0x930a, 0x37},
	{"ATmega168", 0x9406, 0x37},
	{"ATmega328P", 0x950f, 0x37},
}

// Lookup finds the device whose signature matches sig. An unrecognized
// signature is a fatal discovery-time error, per the protocol's
// "unknown signature" invariant.
func Lookup(sig uint16) (*Device, error) {
	for i := range devices {
		if devices[i].Signature == sig {
			return &devices[i], nil
		}
	}
	return nil, dwerr.Newf(dwerr.Protocol, "Target device signature not recognized: 0x%04x", sig)
}

// GetSignature issues the debugWire 0xF3 ("read signature") command and
// returns the 16-bit big-endian signature the target responds with.
func GetSignature(t *wire.Transport) (uint16, error) {
	if err := t.WriteByte(0xf3); err != nil {
		return 0, err
	}
	return t.ReadWordBE()
}

// Identify reads the target's signature and resolves it against the
// device table.
func Identify(t *wire.Transport) (*Device, error) {
	sig, err := GetSignature(t)
	if err != nil {
		return nil, err
	}
	return Lookup(sig)
}

// interProbeDelay is the pause between failed baud candidates.
const interProbeDelay = 10 * time.Millisecond

// probeLine is the transient handle one baud candidate is tried on.
type probeLine interface {
	WriteAll([]byte) error
	ReadExact([]byte) error
	Flush() error
	SendBreak() error
	Close() error
	Fd() int
}

// openLine opens a candidate line at the given baud rate.
type openLine func(device string, baud uint32) (probeLine, error)

func openSerial(device string, baud uint32) (probeLine, error) {
	p, err := serial.Open(device, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProbeBaud iterates candidate baud rates f_cpu/128 for f_cpu from 20MHz
// down to 1MHz, BREAKing the target at each and accepting the first rate
// that yields the fixed 0x55 sign-on. Descending order means the fastest
// working rate wins and guarantees progress when a slow target would
// also happen to respond at a slower rate. All failures but the last are
// swallowed; if nothing succeeds, the last failure is surfaced.
func ProbeBaud(device string, tr *trace.Tracer) (uint32, error) {
	return probeBaud(device, openSerial, tr)
}

func probeBaud(device string, open openLine, tr *trace.Tracer) (uint32, error) {
	var lastErr error

	for mhz := 20; mhz >= 1; mhz-- {
		baud := uint32(mhz*1000000) / 128

		port, err := open(device, baud)
		if err != nil {
			lastErr = err
			continue
		}

		t := wire.New(port, tr)
		err = t.BreakAndSync()
		port.Close()
		if err != nil {
			lastErr = err
			time.Sleep(interProbeDelay)
			continue
		}

		return baud, nil
	}

	if lastErr == nil {
		return 0, dwerr.Newf(dwerr.Protocol, "Failed to detect baudrate for serial port (%s)", device)
	}
	return 0, dwerr.Wrapf(dwerr.Protocol, lastErr, "Failed to detect baudrate for serial port (%s)", device)
}
