package discovery

import (
	"testing"

	"github.com/example/dwire-gdb/internal/dwerr"
	"github.com/example/dwire-gdb/internal/debugwire/wire"
)

// mockLine mirrors wire's own test double: every write self-echoes, and
// respQueue supplies the target-originated bytes for direct reads.
type mockLine struct {
	echo      []byte
	respQueue []byte
}

func (m *mockLine) WriteAll(b []byte) error {
	m.echo = append(m.echo, b...)
	return nil
}

func (m *mockLine) ReadExact(buf []byte) error {
	if len(m.echo) >= len(buf) {
		copy(buf, m.echo[:len(buf)])
		m.echo = m.echo[len(buf):]
		return nil
	}
	if len(m.respQueue) >= len(buf) {
		copy(buf, m.respQueue[:len(buf)])
		m.respQueue = m.respQueue[len(buf):]
		return nil
	}
	return dwerr.ErrUnexpectedEOF
}

func (m *mockLine) Flush() error     { return nil }
func (m *mockLine) SendBreak() error { return nil }
func (m *mockLine) Close() error     { return nil }
func (m *mockLine) Fd() int          { return 3 }

func TestLookupKnownSignature(t *testing.T) {
	dev, err := Lookup(0x930b)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if dev.Name != "ATtiny85" {
		t.Fatalf("Lookup(0x930b).Name = %q, want ATtiny85", dev.Name)
	}
	if dev.Signature != 0x930b {
		t.Fatalf("Lookup returned descriptor with mismatched signature 0x%04x", dev.Signature)
	}
}

func TestLookupUnknownSignatureIsProtocolError(t *testing.T) {
	_, err := Lookup(0xffff)
	if err == nil {
		t.Fatal("expected error for unrecognized signature")
	}
	if !dwerr.Is(err, dwerr.Protocol) {
		t.Fatalf("expected Protocol error, got %v", err)
	}
}

func TestLookupEverySignatureRoundTrips(t *testing.T) {
	for _, d := range devices {
		got, err := Lookup(d.Signature)
		if err != nil {
			t.Fatalf("Lookup(0x%04x): %v", d.Signature, err)
		}
		if got.Signature != d.Signature {
			t.Fatalf("Lookup(0x%04x).Signature = 0x%04x", d.Signature, got.Signature)
		}
	}
}

func TestGetSignature(t *testing.T) {
	line := &mockLine{respQueue: []byte{0x93, 0x0b}}
	tr := wire.New(line, nil)
	sig, err := GetSignature(tr)
	if err != nil {
		t.Fatalf("GetSignature: %v", err)
	}
	if sig != 0x930b {
		t.Fatalf("GetSignature = 0x%04x, want 0x930b", sig)
	}
}

func TestIdentifyResolvesDevice(t *testing.T) {
	line := &mockLine{respQueue: []byte{0x93, 0x0b}}
	tr := wire.New(line, nil)
	dev, err := Identify(tr)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if dev.Name != "ATtiny85" || dev.SPMCSR != 0x37 {
		t.Fatalf("Identify = %+v, want ATtiny85/0x37", dev)
	}
}

// TestProbeBaudConvergesToHighestResponder walks the descending f_cpu
// sweep: candidates above 8MHz/128 = 62500 baud time out, 62500 answers
// the BREAK with 0x55, and the probe must stop there without trying the
// slower rates.
func TestProbeBaudConvergesToHighestResponder(t *testing.T) {
	var tried []uint32
	open := func(device string, baud uint32) (probeLine, error) {
		tried = append(tried, baud)
		m := &mockLine{}
		if baud == 62500 {
			m.respQueue = []byte{0x55}
		}
		return m, nil
	}

	baud, err := probeBaud("/dev/ttyUSB0", open, nil)
	if err != nil {
		t.Fatalf("probeBaud: %v", err)
	}
	if baud != 62500 {
		t.Fatalf("probeBaud = %d, want 62500", baud)
	}
	if len(tried) != 13 {
		t.Fatalf("tried %d candidates, want 13 (20MHz down to 8MHz)", len(tried))
	}
	if tried[0] != 156250 {
		t.Fatalf("first candidate = %d, want 156250 (20MHz/128)", tried[0])
	}
	for i := 1; i < len(tried); i++ {
		if tried[i] >= tried[i-1] {
			t.Fatalf("candidates not strictly descending: %v", tried)
		}
	}
}

func TestProbeBaudSurfacesLastErrorWhenAllFail(t *testing.T) {
	open := func(device string, baud uint32) (probeLine, error) {
		return &mockLine{}, nil
	}
	_, err := probeBaud("/dev/ttyUSB9", open, nil)
	if err == nil {
		t.Fatal("expected error when no candidate responds")
	}
	if !dwerr.Is(err, dwerr.Protocol) {
		t.Fatalf("expected Protocol error, got %v", err)
	}
}

func TestIdentifyUnknownSignature(t *testing.T) {
	line := &mockLine{respQueue: []byte{0x00, 0x00}}
	tr := wire.New(line, nil)
	_, err := Identify(tr)
	if !dwerr.Is(err, dwerr.Protocol) {
		t.Fatalf("expected Protocol error for signature 0x0000, got %v", err)
	}
}
