package serial

import (
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// Request codes used by the line driver. Only the handful debugWire
// actually needs survive here; goserial's Port exposes the full termios
// surface (modem lines, RS-485, line discipline) but this bridge only
// ever opens a raw, fixed-framing line at a non-standard baud rate.
var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(termios2{}))

	tiocsbrk = uintptr(0x5427)
	tioccbrk = uintptr(0x5428)

	tcflsh = uintptr(0x540B)
)

const tciofush = 2 // TCIOFLUSH: flush both input and output queues
