// Package serial is the line driver (C1): raw byte I/O against a TTY
// device at a chosen, generally non-standard baud rate, with BREAK
// assertion/detection and buffer flushing. It owns the one file
// descriptor debugWire ever talks through; every higher layer reaches
// the wire exclusively via this package.
package serial

import (
	"syscall"
	"time"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"github.com/daedaluz/fdev/poll"

	"github.com/example/dwire-gdb/internal/dwerr"
)

// DefaultReadTimeout is the per-byte read timeout used when a Port is
// opened without an explicit override. It sits inside the ≈0.5-1s window
// the protocol engine needs so that a failed baud/BREAK probe gives up
// instead of hanging.
const DefaultReadTimeout = 750 * time.Millisecond

// breakAssertDuration is how long the TX line is held low for a debugWire
// BREAK. 15ms frames a guaranteed framing error at every baud rate the
// engine supports (down to 1MHz/128 = 7812 baud).
const breakAssertDuration = 15 * time.Millisecond

// settleDuration is how long Open waits after configuring the line for
// the USB-to-TTL adapter to settle before the startup flush.
const settleDuration = 30 * time.Millisecond

// Port is a single open serial line. It is not safe for concurrent use;
// the bridge is single-threaded by design (see the session FSM).
type Port struct {
	fd          int
	device      string
	baud        uint32
	readTimeout time.Duration
	closed      bool
}

// Open configures device as 8N1, parity-checking disabled on input,
// hardware flow control disabled, at the given baud rate (which need not
// be a POSIX-standard rate: BOTHER/termios2 is used unconditionally so
// that baud = f_cpu/128 works for arbitrary f_cpu). On any failure the fd
// is closed before returning.
func Open(device string, baud uint32) (*Port, error) {
	fd, err := syscall.Open(device, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, dwerr.Wrapf(dwerr.Transport, err, "failed to open serial port %s", device)
	}

	p := &Port{fd: fd, device: device, baud: baud, readTimeout: DefaultReadTimeout}

	cfg := termios2{
		Cflag:  bother | cs8 | clocal | cread,
		Iflag:  ignpar,
		ISpeed: baud,
		OSpeed: baud,
	}
	cfg.Cc[vmin] = 0
	cfg.Cc[vtime] = 10

	if err := ioctl.Ioctl(uintptr(fd), tcsets2, uintptr(unsafe.Pointer(&cfg))); err != nil {
		syscall.Close(fd)
		return nil, dwerr.Wrapf(dwerr.Transport, err, "failed to set termios2 on %s at %d baud", device, baud)
	}

	if err := p.Flush(); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	time.Sleep(settleDuration)

	if err := p.Flush(); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return p, nil
}

// Fd returns the underlying file descriptor, for use by the session
// layer's two-fd readiness wait. Only valid while the port is open.
func (p *Port) Fd() int {
	return p.fd
}

// Device returns the path this port was opened against.
func (p *Port) Device() string {
	return p.device
}

// Baud returns the baud rate this port was opened at.
func (p *Port) Baud() uint32 {
	return p.baud
}

// SetReadTimeout overrides the per-byte read timeout used by ReadExact.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.readTimeout = d
}

// Close releases the file descriptor. It is idempotent: a second Close
// returns dwerr.ErrClosed instead of operating on a stale fd.
func (p *Port) Close() error {
	if p.closed {
		return dwerr.ErrClosed
	}
	p.closed = true
	if err := syscall.Close(p.fd); err != nil {
		return dwerr.Wrap(dwerr.Transport, "failed to close serial port", err)
	}
	return nil
}

// Flush discards both queued input and output.
func (p *Port) Flush() error {
	if p.closed {
		return dwerr.ErrClosed
	}
	if err := ioctl.Ioctl(uintptr(p.fd), tcflsh, tciofush); err != nil {
		return dwerr.Wrap(dwerr.Transport, "failed to flush serial port", err)
	}
	return nil
}

// SendBreak flushes, then lowers the TX line for breakAssertDuration and
// releases it. The target reacts to this line condition by emitting its
// fixed 0x55 sign-on byte, which callers read back via ReadExact.
func (p *Port) SendBreak() error {
	if p.closed {
		return dwerr.ErrClosed
	}
	if err := p.Flush(); err != nil {
		return err
	}
	if err := ioctl.Ioctl(uintptr(p.fd), tiocsbrk, 1); err != nil {
		return dwerr.Wrap(dwerr.Transport, "failed to assert break", err)
	}
	time.Sleep(breakAssertDuration)
	if err := ioctl.Ioctl(uintptr(p.fd), tioccbrk, 1); err != nil {
		return dwerr.Wrap(dwerr.Transport, "failed to release break", err)
	}
	return nil
}

// WriteAll writes every byte in buf, retrying on short writes.
func (p *Port) WriteAll(buf []byte) error {
	if p.closed {
		return dwerr.ErrClosed
	}
	n := 0
	for n < len(buf) {
		c, err := syscall.Write(p.fd, buf[n:])
		if err != nil {
			return dwerr.Wrap(dwerr.Transport, "failed to write to serial port", err)
		}
		n += c
	}
	return nil
}

// ReadExact blocks until exactly len(buf) bytes have been read, each
// subject to the configured per-byte timeout. A read that times out or
// observes EOF before buf is full surfaces as dwerr.ErrUnexpectedEOF, so
// a failed probe never hangs the caller indefinitely.
func (p *Port) ReadExact(buf []byte) error {
	if p.closed {
		return dwerr.ErrClosed
	}
	n := 0
	for n < len(buf) {
		if err := poll.WaitInput(p.fd, p.readTimeout); err != nil {
			return dwerr.ErrUnexpectedEOF
		}
		c, err := syscall.Read(p.fd, buf[n:])
		if err != nil {
			return dwerr.Wrap(dwerr.Transport, "failed to read from serial port", err)
		}
		if c == 0 {
			return dwerr.ErrUnexpectedEOF
		}
		n += c
	}
	return nil
}
