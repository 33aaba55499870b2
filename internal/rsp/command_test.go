package rsp

import "testing"

func TestParseCommandSimplePayloads(t *testing.T) {
	cases := map[string]CommandKind{
		"qAttached": CmdQAttached,
		"?":         CmdQueryStop,
		"g":         CmdReadRegs,
		"s":         CmdStep,
		"c":         CmdContinue,
		"vCont?":    CmdUnknown,
	}
	for payload, want := range cases {
		got := ParseCommand(payload)
		if got.Kind != want {
			t.Errorf("ParseCommand(%q).Kind = %v, want %v", payload, got.Kind, want)
		}
	}
}

func TestParseCommandReadMem(t *testing.T) {
	got := ParseCommand("m800060,4")
	if got.Kind != CmdReadMem {
		t.Fatalf("Kind = %v, want CmdReadMem", got.Kind)
	}
	if got.Addr != 0x800060 || got.Len != 4 {
		t.Fatalf("Addr/Len = 0x%x/%d, want 0x800060/4", got.Addr, got.Len)
	}
}

func TestParseCommandReadMemMalformed(t *testing.T) {
	for _, payload := range []string{"m", "mzz,4", "m10,zz", "m10"} {
		if got := ParseCommand(payload); got.Kind != CmdUnknown {
			t.Errorf("ParseCommand(%q).Kind = %v, want CmdUnknown", payload, got.Kind)
		}
	}
}

func TestParseCommandSetAndClearHWBreak(t *testing.T) {
	set := ParseCommand("Z1,40,2")
	if set.Kind != CmdSetHWBreak || set.Addr != 0x40 || set.BpKind != 2 {
		t.Fatalf("ParseCommand(Z1,40,2) = %+v, want CmdSetHWBreak @0x40 kind 2", set)
	}
	clear := ParseCommand("z1,40,2")
	if clear.Kind != CmdClearHWBreak || clear.Addr != 0x40 || clear.BpKind != 2 {
		t.Fatalf("ParseCommand(z1,40,2) = %+v, want CmdClearHWBreak @0x40 kind 2", clear)
	}
}

func TestParseCommandUnsupportedBreakpointKinds(t *testing.T) {
	for _, payload := range []string{"Z0,40,2", "Z2,40,2", "Z3,40,2", "Z4,40,2", "z0,40,1"} {
		got := ParseCommand(payload)
		if got.Kind != CmdUnsupportedBreak {
			t.Errorf("ParseCommand(%q).Kind = %v, want CmdUnsupportedBreak", payload, got.Kind)
		}
	}
}

func TestParseCommandMalformedBreak(t *testing.T) {
	for _, payload := range []string{"Z1,40", "Z", "Zzz,40,2", "Z1,40,zz", "Z1,40,0"} {
		if got := ParseCommand(payload); got.Kind != CmdUnknown {
			t.Errorf("ParseCommand(%q).Kind = %v, want CmdUnknown", payload, got.Kind)
		}
	}
}
