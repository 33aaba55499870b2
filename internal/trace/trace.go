// Package trace implements the bridge's opt-in byte-level and RSP-packet
// tracing. A Tracer is an explicit value threaded through constructors,
// not a process-wide flag, so sessions (and tests) never contend over
// hidden global state.
package trace

import (
	"fmt"
	"io"
	"os"
)

// Tracer writes diagnostic lines for serial I/O and RSP packet traffic.
// The zero value is disabled and costs a single boolean check per call.
type Tracer struct {
	enabled bool
	out     io.Writer
}

// New returns a Tracer writing to w when enabled is true. A disabled
// Tracer never touches w.
func New(enabled bool, w io.Writer) *Tracer {
	if w == nil {
		w = os.Stderr
	}
	return &Tracer{enabled: enabled, out: w}
}

// Disabled returns a Tracer that discards everything, for call sites
// that need a non-nil Tracer unconditionally.
func Disabled() *Tracer {
	return &Tracer{}
}

func (t *Tracer) active() bool {
	return t != nil && t.enabled
}

// Out logs a byte written to the serial line.
func (t *Tracer) Out(b byte) {
	if !t.active() {
		return
	}
	fmt.Fprintf(t.out, ">>> 0x%02x\n", b)
}

// In logs a byte read from the serial line.
func (t *Tracer) In(b byte) {
	if !t.active() {
		return
	}
	fmt.Fprintf(t.out, "<<< 0x%02x\n", b)
}

// RSPIn logs an inbound RSP packet payload (or "ack"/"nack").
func (t *Tracer) RSPIn(what string) {
	if !t.active() {
		return
	}
	fmt.Fprintf(t.out, "$< command: %s\n", what)
}

// RSPOut logs an outbound RSP response payload.
func (t *Tracer) RSPOut(what string) {
	if !t.active() {
		return
	}
	fmt.Fprintf(t.out, "$> command: %s\n", what)
}
