package serial

// termios2 mirrors struct termios2 from <asm/termbits.h>. It differs
// from the classic termios by replacing the encoded-baud-rate bits in
// Cflag with explicit ISpeed/OSpeed fields once BOTHER is set, which is
// what lets the driver request an arbitrary integer baud rate instead of
// being limited to the POSIX Bnnn constants.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   byte
	Cc     [19]byte
	ISpeed uint32
	OSpeed uint32
}

// Control mode flags actually needed to frame the line as 8N1 with
// hardware flow control disabled and an arbitrary BOTHER baud rate.
const (
	cs8    = uint32(0000060)
	clocal = uint32(0004000)
	bother = uint32(0010000)
	ignpar = uint32(0000004)
	cread  = uint32(0000200)
)

// Indices into Cc selecting the non-canonical read timeout knobs: VMIN=0
// disables the "wait for N bytes" rule, VTIME imposes a decisecond
// timeout on read(2) so a failed baud/BREAK probe cannot hang forever.
const (
	vmin  = 6
	vtime = 5
)
