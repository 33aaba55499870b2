// Package debugwire implements the protocol engine (C4): semantic
// operations (get/set PC, register file access, SRAM/flash reads,
// single-step, continue, fuses) expressed as fixed byte sequences of
// in-band AVR machine instructions streamed through the echo-aware
// transport. DebugWire itself is undocumented; the opcodes here are
// named after their observed behavior on silicon.
package debugwire

import (
	"strings"

	"github.com/example/dwire-gdb/internal/debugwire/discovery"
	"github.com/example/dwire-gdb/internal/debugwire/wire"
	"github.com/example/dwire-gdb/internal/serial"
	"github.com/example/dwire-gdb/internal/trace"
)

// Opcodes used directly by Engine methods. Burst preambles for register
// access are built inline in WriteRegs/ReadRegs since they interleave
// fixed bytes with the start/length parameters.
const (
	opDisable     = 0x06
	opReset       = 0x07
	opGetSig      = 0xf3
	opSetPC       = 0xd0
	opGetPC       = 0xf0
	opWriteInst   = 0x64
	opInstPrefix  = 0xd2
	opInstExecute = 0x23
	opGo          = 0x30
	opSetBreakAbs = 0xd1
	opStepCtx     = 0x60
	opStepTrigger = 0x31

	instLPMZPlus = 0x9005 // LPM r0, Z+
	instLPM      = 0x95c8 // LPM r0, Z (reads the fuse/lock byte selected through SPMCSR)
)

// Engine drives one connected target through the echo-aware transport.
// It is not safe for concurrent use.
type Engine struct {
	t      *wire.Transport
	Device *discovery.Device

	// scratch holds the save slots used internally by the memory-read
	// primitives (ReadSram, ReadFlash) to satisfy the transparent-
	// debugging invariant: PC and the Y/Z register pair are restored to
	// their pre-call values before any public operation returns success.
	scratchPC uint16
	scratchYZ [4]byte
}

// New builds an engine over an already-synchronized transport and an
// already-identified device. Most callers want Open instead.
func New(t *wire.Transport, dev *discovery.Device) *Engine {
	return &Engine{t: t, Device: dev}
}

// Open probes (or uses the given) baud rate, opens the serial line,
// synchronizes with a BREAK, and identifies the target device. baud == 0
// means auto-discover.
func Open(device string, baud uint32, tr *trace.Tracer) (*Engine, error) {
	if tr == nil {
		tr = trace.Disabled()
	}

	if baud == 0 {
		discovered, err := discovery.ProbeBaud(device, tr)
		if err != nil {
			return nil, err
		}
		baud = discovered
	}

	port, err := serial.Open(device, baud)
	if err != nil {
		return nil, err
	}

	t := wire.New(port, tr)
	if err := t.BreakAndSync(); err != nil {
		port.Close()
		return nil, err
	}

	dev, err := discovery.Identify(t)
	if err != nil {
		port.Close()
		return nil, err
	}

	return &Engine{t: t, Device: dev}, nil
}

// Close releases the underlying serial line.
func (e *Engine) Close() error {
	return e.t.Close()
}

// Transport exposes the underlying echo-aware transport for the session
// layer's stop wait, which consumes the target's sign-on itself when a
// breakpoint or interrupt is observed.
func (e *Engine) Transport() *wire.Transport {
	return e.t
}

// SerialFd exposes the underlying serial line's file descriptor, for the
// session layer's select() over the serial and TCP fds while the target
// is free-running.
func (e *Engine) SerialFd() int {
	return e.t.Fd()
}

// Disable permanently exits debugWire until the next SPI reprogramming.
func (e *Engine) Disable() error {
	return e.t.WriteByte(opDisable)
}

// Reset soft-resets the target: BREAK, issue the reset opcode, then wait
// for the sign-on the target emits once the reset completes. The host
// does not assert a second BREAK; the target drives the line itself.
func (e *Engine) Reset() error {
	if err := e.t.BreakAndSync(); err != nil {
		return err
	}
	if err := e.t.WriteByte(opReset); err != nil {
		return err
	}
	return e.t.Sync()
}

// GetSignature re-reads the MCU signature (0xF3).
func (e *Engine) GetSignature() (uint16, error) {
	return discovery.GetSignature(e.t)
}

// SetPC sets the instruction program counter (a word address).
func (e *Engine) SetPC(pc uint16) error {
	return e.t.Write([]byte{opSetPC, byte(pc >> 8), byte(pc)})
}

// GetPC reads the instruction program counter. The value debugWire
// reports is one word past the actual halt point, so the engine
// subtracts 1 before returning whenever the raw value is non-zero.
func (e *Engine) GetPC() (uint16, error) {
	if err := e.t.WriteByte(opGetPC); err != nil {
		return 0, err
	}
	raw, err := e.t.ReadWordBE()
	if err != nil {
		return 0, err
	}
	if raw != 0 {
		raw--
	}
	return raw, nil
}

// WriteRegs burst-writes values into register file positions
// start..start+len(values).
func (e *Engine) WriteRegs(start uint8, values []byte) error {
	end := start + uint8(len(values))
	preamble := []byte{
		0x66,
		0xc2, 0x05,
		opSetPC, 0x00, start,
		0xd1, 0x00, end,
		0x20,
	}
	if err := e.t.Write(preamble); err != nil {
		return err
	}
	return e.t.Write(values)
}

// ReadRegs burst-reads len register file positions starting at start.
func (e *Engine) ReadRegs(start uint8, length int) ([]byte, error) {
	end := start + uint8(length)
	preamble := []byte{
		0x66,
		0xc2, 0x01,
		opSetPC, 0x00, start,
		0xd1, 0x00, end,
		0x20,
	}
	if err := e.t.Write(preamble); err != nil {
		return nil, err
	}
	return e.t.Read(length)
}

// WriteInst loads a 16-bit AVR instruction into the target's instruction
// register and executes it.
func (e *Engine) WriteInst(inst uint16) error {
	return e.t.Write([]byte{opWriteInst, opInstPrefix, byte(inst >> 8), byte(inst), opInstExecute})
}

// avrIn/avrOut encode the AVR IN/OUT instructions for the given I/O
// address and register.
func avrIn(address, reg uint8) uint16 {
	return 0xb000 | (uint16(address&0x30) << 5) | (uint16(reg&0x1f) << 4) | uint16(address&0x0f)
}

func avrOut(address, reg uint8) uint16 {
	return 0xb800 | (uint16(address&0x30) << 5) | (uint16(reg&0x1f) << 4) | uint16(address&0x0f)
}

// InstIn executes `IN reg, address` on the target.
func (e *Engine) InstIn(address, reg uint8) error {
	return e.WriteInst(avrIn(address, reg))
}

// InstOut executes `OUT address, reg` on the target.
func (e *Engine) InstOut(address, reg uint8) error {
	return e.WriteInst(avrOut(address, reg))
}

// cachePC saves the target's real PC for later restoration.
func (e *Engine) cachePC() error {
	pc, err := e.GetPC()
	if err != nil {
		return err
	}
	e.scratchPC = pc
	return nil
}

// restorePC restores the PC saved by cachePC. Must run after restoreYZ,
// since restoring Y/Z itself clobbers PC as a side effect of the
// register-burst addressing trick.
func (e *Engine) restorePC() error {
	return e.SetPC(e.scratchPC)
}

// cacheYZ saves the target's real r28-r31 (Y/Z) for later restoration.
func (e *Engine) cacheYZ() error {
	yz, err := e.ReadRegs(28, 4)
	if err != nil {
		return err
	}
	copy(e.scratchYZ[:], yz)
	return nil
}

// restoreYZ restores the register pair saved by cacheYZ.
func (e *Engine) restoreYZ() error {
	return e.WriteRegs(28, e.scratchYZ[:])
}

// ReadSram reads len bytes starting at addr, using Z as the AVR pointer.
// PC and Y/Z are clobbered internally and restored before returning, per
// the transparent-debugging invariant.
func (e *Engine) ReadSram(addr uint16, length int) ([]byte, error) {
	if err := e.cachePC(); err != nil {
		return nil, err
	}
	if err := e.cacheYZ(); err != nil {
		return nil, err
	}

	if err := e.WriteRegs(30, []byte{byte(addr), byte(addr >> 8)}); err != nil {
		return nil, err
	}

	preamble := []byte{
		0x66,
		0xc2, 0x00,
		opSetPC, 0x00, 0x00,
		0xd1, byte((2 * length) >> 8), byte(2 * length),
		0x20,
	}
	if err := e.t.Write(preamble); err != nil {
		return nil, err
	}
	data, err := e.t.Read(length)
	if err != nil {
		return nil, err
	}

	if err := e.restoreYZ(); err != nil {
		return nil, err
	}
	if err := e.restorePC(); err != nil {
		return nil, err
	}

	return data, nil
}

// ReadFlash reads len bytes of program memory starting at the byte
// address addr (LPM addresses flash in bytes through Z), one byte per
// LPM-with-post-increment. This follows the same Z-pointer/save-restore
// shape as ReadSram; debugWire exposes flash only through the AVR's own
// LPM instruction, a byte at a time.
func (e *Engine) ReadFlash(addr uint16, length int) ([]byte, error) {
	if err := e.cachePC(); err != nil {
		return nil, err
	}
	if err := e.cacheYZ(); err != nil {
		return nil, err
	}

	if err := e.WriteRegs(30, []byte{byte(addr), byte(addr >> 8)}); err != nil {
		return nil, err
	}

	data := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		if err := e.WriteInst(instLPMZPlus); err != nil {
			return nil, err
		}
		b, err := e.ReadRegs(0, 1)
		if err != nil {
			return nil, err
		}
		data = append(data, b[0])
	}

	if err := e.restoreYZ(); err != nil {
		return nil, err
	}
	if err := e.restorePC(); err != nil {
		return nil, err
	}

	return data, nil
}

// Step executes one instruction, then the target auto-halts and signals
// BREAK/0x55 exactly as it does on a breakpoint hit; the caller is
// responsible for awaiting that signal (rsp.Session.handleStep does so
// with wire.Transport.Sync).
func (e *Engine) Step() error {
	return e.t.Write([]byte{opStepCtx, opStepTrigger})
}

// SetHardwareBreakpoint arms the target's single hardware breakpoint
// register at the given word address.
func (e *Engine) SetHardwareBreakpoint(addr uint16) error {
	return e.t.Write([]byte{opSetBreakAbs, byte(addr >> 8), byte(addr)})
}

// Continue sets PC to resumePC, arms the hardware breakpoint if one is
// given, and issues the free-run opcode. The caller must then await
// BREAK/0x55 (or a host-side Ctrl-C) exactly as with Step.
func (e *Engine) Continue(resumePC uint16, hwBreakpoint *uint16) error {
	if err := e.SetPC(resumePC); err != nil {
		return err
	}
	if hwBreakpoint != nil {
		if err := e.SetHardwareBreakpoint(*hwBreakpoint); err != nil {
			return err
		}
	}
	return e.t.WriteByte(opGo)
}

// fuseAddr identifies one of the four fuse/lock addresses read by
// GetFuses, in the exact order the response string lists them.
type fuseAddr struct {
	label string
	index uint8
}

var fuseOrder = []fuseAddr{
	{"low", 0},
	{"high", 3},
	{"extended", 2},
	{"lockbit", 1},
}

// GetFuses reads the four fuse/lock bytes through SPMCSR and the LPM
// instruction, returning them as "low=0xAA, high=0xBB, extended=0xCC,
// lockbit=0xDD".
func (e *Engine) GetFuses() (string, error) {
	const rflbSelfPrgEn = 1<<3 | 1<<0

	var parts []string
	for _, f := range fuseOrder {
		regs := []byte{rflbSelfPrgEn, f.index, 0}
		if err := e.WriteRegs(29, regs); err != nil {
			return "", err
		}
		if err := e.InstOut(e.Device.SPMCSR, 29); err != nil {
			return "", err
		}
		if err := e.WriteInst(instLPM); err != nil {
			return "", err
		}
		b, err := e.ReadRegs(0, 1)
		if err != nil {
			return "", err
		}
		parts = append(parts, f.label+"="+hexByte(b[0]))
	}
	return strings.Join(parts, ", "), nil
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}

