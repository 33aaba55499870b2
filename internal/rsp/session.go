package rsp

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/example/dwire-gdb/internal/debugwire"
	"github.com/example/dwire-gdb/internal/dwerr"
	"github.com/example/dwire-gdb/internal/trace"
)

// recvState is the inbound packet framing state machine: every byte from
// the client is fed through exactly one of these states before the next
// complete command is handed to dispatch.
type recvState int

const (
	stateExpectAckOrStart recvState = iota
	stateInPayload
	stateCksum1
	stateCksum2
)

// Session is one GDB connection bound to one live debugWire engine. A
// bridge process serves exactly one Session at a time (see Serve).
type Session struct {
	conn   net.Conn
	engine *debugwire.Engine
	trace  *trace.Tracer

	hwBreakpoint  *uint16
	targetRunning bool
}

// NewSession builds a session around an already-accepted connection and an
// already-opened engine. Ownership of both passes to the caller, who must
// close them once run returns.
func NewSession(conn net.Conn, engine *debugwire.Engine, tr *trace.Tracer) *Session {
	if tr == nil {
		tr = trace.Disabled()
	}
	return &Session{conn: conn, engine: engine, trace: tr}
}

// Serve listens on host:port, accepts a single client, drives its session
// to completion, then returns. It never accepts a second connection: the
// bridge is torn down and restarted per debug session, matching how it
// is invoked from a GDB "target remote" command.
func Serve(host, port string, engine *debugwire.Engine, tr *trace.Tracer) error {
	addr := net.JoinHostPort(host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return dwerr.Wrapf(dwerr.Transport, err, "failed to listen on %s", addr)
	}
	fmt.Fprintf(os.Stderr, " * GDB server running on %s\n", addr)

	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return dwerr.Wrap(dwerr.Transport, "failed to accept connection", err)
	}
	fmt.Fprintf(os.Stderr, " * Connection accepted from %s\n", conn.RemoteAddr())

	sess := NewSession(conn, engine, tr)
	runErr := sess.run()
	conn.Close()
	fmt.Fprintf(os.Stderr, " * Connection closed\n")
	return runErr
}

// run reads packets until the connection closes or a session-ending error
// occurs (bad checksum, transport failure, protocol violation).
func (s *Session) run() error {
	state := stateExpectAckOrStart
	var payload []byte
	var cksum byte
	var hiDigit byte

	buf := make([]byte, 1)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return dwerr.Wrap(dwerr.Session, "connection read failed", err)
		}
		if n == 0 {
			continue
		}
		b := buf[0]

		if b == 0x03 {
			if err := s.handleInterrupt(); err != nil {
				return err
			}
			continue
		}

		switch state {
		case stateExpectAckOrStart:
			switch b {
			case '+':
				// Bare ack from the client; nothing to do.
			case '-':
				return dwerr.New(dwerr.Session, "GDB requested retransmission")
			case '$':
				payload = payload[:0]
				cksum = 0
				state = stateInPayload
			default:
				return dwerr.Newf(dwerr.Session, "expected packet start '$', got 0x%02x", b)
			}
		case stateInPayload:
			if b == '#' {
				state = stateCksum1
			} else {
				payload = append(payload, b)
				cksum += b
			}
		case stateCksum1:
			hiDigit = b
			state = stateCksum2
		case stateCksum2:
			declared, err := parseHexByte(hiDigit, b)
			if err != nil || declared != cksum {
				return dwerr.New(dwerr.Session, "bad checksum on inbound packet")
			}
			if err := s.ack(); err != nil {
				return err
			}
			if err := s.dispatch(string(payload)); err != nil {
				return err
			}
			state = stateExpectAckOrStart
		}
	}
}

func (s *Session) ack() error {
	_, err := writeAll(s.conn, []byte{'+'})
	return err
}

// writeAll retries against short writes, which net.Conn can legitimately
// produce under backpressure.
func writeAll(w interface{ Write([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		if err != nil {
			return total, dwerr.Wrap(dwerr.Session, "connection write failed", err)
		}
		total += n
	}
	return total, nil
}

// reply frames and sends payload as a response packet. The '+' that
// acknowledges the inbound packet is sent separately by run, once the
// checksum has validated and before dispatch.
func (s *Session) reply(payload string) error {
	s.trace.RSPOut(payload)
	_, err := writeAll(s.conn, []byte(encodePacket(payload)))
	return err
}

// dispatch parses one complete, checksum-valid payload and answers it.
func (s *Session) dispatch(payload string) error {
	s.trace.RSPIn(payload)
	cmd := ParseCommand(payload)

	var resp string
	var err error

	switch cmd.Kind {
	case CmdQAttached:
		resp = "1"
	case CmdQueryStop:
		resp = "S00"
	case CmdReadRegs:
		resp, err = s.handleReadRegs()
	case CmdReadMem:
		resp, err = s.handleReadMem(cmd.Addr, cmd.Len)
	case CmdStep:
		resp, err = s.handleStep()
	case CmdContinue:
		resp, err = s.handleContinue()
	case CmdSetHWBreak:
		resp, err = s.handleSetHWBreak(uint16(cmd.Addr / cmd.BpKind))
	case CmdClearHWBreak:
		resp, err = s.handleClearHWBreak(uint16(cmd.Addr / cmd.BpKind))
	case CmdUnsupportedBreak:
		resp = "E01"
	default:
		resp = ""
	}
	if err != nil {
		return err
	}
	return s.reply(resp)
}

// handleInterrupt answers an out-of-band 0x03 that arrived while no
// command was in flight (target already stopped): it forces a fresh
// BREAK/sign-on and reports S05. A 0x03 that arrives while a 'c' is in
// flight is instead handled inside waitForStop, and handleContinue replies
// S00 once it returns. A 0x03 sent during an 's' is only read after the
// step has completed, and is then handled here.
func (s *Session) handleInterrupt() error {
	if s.targetRunning {
		return nil
	}
	if err := s.engine.Transport().BreakAndSync(); err != nil {
		return err
	}
	return s.reply("S05")
}

// handleReadRegs implements 'g': 32 GPRs, SREG, SPL/SPH, then PC as a
// 32-bit little-endian value, the 39-byte register blob GDB's AVR
// description expects. GetPC must run before ReadRegs, which momentarily
// repoints the real PC at a register-file address as a side effect of its
// burst-addressing trick; SetPC at the end restores the true value that
// ReadRegs clobbered, overriding whatever ReadSram's own internal restores
// left behind along the way.
func (s *Session) handleReadRegs() (string, error) {
	truePC, err := s.engine.GetPC()
	if err != nil {
		return "", err
	}

	regs, err := s.engine.ReadRegs(0, 32)
	if err != nil {
		return "", err
	}
	sreg, err := s.engine.ReadSram(0x5f, 1)
	if err != nil {
		return "", err
	}
	sp, err := s.engine.ReadSram(0x5d, 2)
	if err != nil {
		return "", err
	}
	if err := s.engine.SetPC(truePC); err != nil {
		return "", err
	}

	blob := make([]byte, 0, 39)
	blob = append(blob, regs...)
	blob = append(blob, sreg[0], sp[0], sp[1])
	blob = append(blob, byte(truePC), byte(truePC>>8), 0, 0)
	return encodeHex(blob), nil
}

const flashAddrTag = 0x800000
const sramAddrCeiling = 0x810000

// handleReadMem implements 'm addr,len': addr below the flash tag reads
// program memory, addr below the SRAM ceiling (tag masked off) reads data
// memory, anything else is unsupported.
func (s *Session) handleReadMem(addr, length uint64) (string, error) {
	switch {
	case addr < flashAddrTag:
		data, err := s.engine.ReadFlash(uint16(addr), int(length))
		if err != nil {
			return "", err
		}
		return encodeHex(data), nil
	case addr < sramAddrCeiling:
		data, err := s.engine.ReadSram(uint16(addr&0xffff), int(length))
		if err != nil {
			return "", err
		}
		return encodeHex(data), nil
	default:
		return "E01", nil
	}
}

// handleStep implements 's': single-step, await the auto-halt sign-on
// the target drives on its own, always report S00.
func (s *Session) handleStep() (string, error) {
	s.targetRunning = true
	defer func() { s.targetRunning = false }()

	if err := s.engine.Step(); err != nil {
		return "", err
	}
	if err := s.engine.Transport().Sync(); err != nil {
		return "", err
	}
	return "S00", nil
}

// handleContinue implements 'c': resume from the current PC, with the
// session's armed hardware breakpoint (if any), and block until the
// target halts or the client sends Ctrl-C.
func (s *Session) handleContinue() (string, error) {
	resumePC, err := s.engine.GetPC()
	if err != nil {
		return "", err
	}

	s.targetRunning = true
	defer func() { s.targetRunning = false }()

	if err := s.engine.Continue(resumePC, s.hwBreakpoint); err != nil {
		return "", err
	}
	if err := s.waitForStop(s.hwBreakpoint != nil); err != nil {
		return "", err
	}
	return "S00", nil
}

// handleSetHWBreak implements 'Z1,addr,kind'. The target has exactly one
// hardware breakpoint register; a second set without an intervening clear
// is rejected rather than silently overwriting the first.
func (s *Session) handleSetHWBreak(addr uint16) (string, error) {
	if s.hwBreakpoint != nil {
		return "E01", nil
	}
	a := addr
	s.hwBreakpoint = &a
	return "OK", nil
}

// handleClearHWBreak implements 'z1,addr,kind'.
func (s *Session) handleClearHWBreak(addr uint16) (string, error) {
	s.hwBreakpoint = nil
	return "OK", nil
}

// waitForStop blocks until either the serial line signals a breakpoint
// hit (the target's own BREAK/0x55, consumed via Sync) or the client
// sends a Ctrl-C over the TCP connection, in which case the host drives
// the BREAK itself. hwBreakArmed is passed by value so this helper never
// needs to reach back into the session's breakpoint slot: with no
// breakpoint armed, the only stop the target can produce is the
// host-driven interrupt, and serial chatter is line noise to discard.
// Any other byte arriving from the client while the target is running is
// a protocol violation.
func (s *Session) waitForStop(hwBreakArmed bool) error {
	serialFD := s.engine.SerialFd()

	connFile, ok := s.conn.(syscall.Conn)
	if !ok {
		return dwerr.New(dwerr.Internal, "connection does not expose a raw fd")
	}
	rawConn, err := connFile.SyscallConn()
	if err != nil {
		return dwerr.Wrap(dwerr.Internal, "failed to obtain raw connection", err)
	}
	var tcpFD int
	if ctrlErr := rawConn.Control(func(fd uintptr) { tcpFD = int(fd) }); ctrlErr != nil {
		return dwerr.Wrap(dwerr.Internal, "failed to read connection fd", ctrlErr)
	}

	for {
		rfds := &unix.FdSet{}
		fdSet(rfds, serialFD)
		fdSet(rfds, tcpFD)
		maxFD := serialFD
		if tcpFD > maxFD {
			maxFD = tcpFD
		}

		n, err := unix.Select(maxFD+1, rfds, nil, nil, nil)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return dwerr.Wrap(dwerr.Internal, "select on serial/connection fds failed", err)
		}
		if n == 0 {
			continue
		}

		if fdIsSet(rfds, serialFD) {
			if hwBreakArmed {
				return s.engine.Transport().Sync()
			}
			if _, err := s.engine.Transport().ReadByte(); err != nil {
				return err
			}
			continue
		}
		if fdIsSet(rfds, tcpFD) {
			var b [1]byte
			if _, err := s.conn.Read(b[:]); err != nil {
				return dwerr.Wrap(dwerr.Session, "connection read failed while target running", err)
			}
			if b[0] != 0x03 {
				return dwerr.Newf(dwerr.Session, "protocol violation: unexpected byte 0x%02x while target running", b[0])
			}
			return s.engine.Transport().BreakAndSync()
		}
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1 << (uint(fd) % 64))
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&int64(1<<(uint(fd)%64)) != 0
}
