package rsp

import "strings"

// CommandKind tags a parsed inbound packet payload.
type CommandKind int

const (
	CmdQAttached CommandKind = iota
	CmdQueryStop
	CmdReadRegs
	CmdReadMem
	CmdStep
	CmdContinue
	CmdSetHWBreak
	CmdClearHWBreak
	CmdUnsupportedBreak // a Z/z packet of a kind other than 1 (hardware)
	CmdInterrupt
	CmdUnknown
)

// Command is the sum type every inbound payload is parsed into before
// dispatch, so the dispatcher never re-parses raw text.
type Command struct {
	Kind CommandKind
	Addr uint64
	Len  uint64
	// BpKind is the Z/z packet's trailing "kind" field: the byte width
	// of an instruction at the breakpoint address. The target's
	// breakpoint register wants a word address, so the dispatcher stores
	// Addr/BpKind.
	BpKind uint64
}

// ParseCommand classifies a decoded RSP payload (the bytes between '$' and
// '#', already checksum-verified) into a Command. Anything this bridge
// does not implement comes back as CmdUnknown, which the dispatcher
// answers with an empty packet per RSP convention.
func ParseCommand(payload string) Command {
	switch {
	case payload == "qAttached":
		return Command{Kind: CmdQAttached}
	case payload == "?":
		return Command{Kind: CmdQueryStop}
	case payload == "g":
		return Command{Kind: CmdReadRegs}
	case payload == "s":
		return Command{Kind: CmdStep}
	case payload == "c":
		return Command{Kind: CmdContinue}
	case strings.HasPrefix(payload, "m"):
		return parseReadMem(payload)
	case strings.HasPrefix(payload, "Z"):
		return parseBreak(payload, CmdSetHWBreak)
	case strings.HasPrefix(payload, "z"):
		return parseBreak(payload, CmdClearHWBreak)
	default:
		return Command{Kind: CmdUnknown}
	}
}

// parseReadMem handles "m addr,len".
func parseReadMem(payload string) Command {
	fields := strings.SplitN(payload[1:], ",", 2)
	if len(fields) != 2 {
		return Command{Kind: CmdUnknown}
	}
	addr, err := parseHexUint(fields[0])
	if err != nil {
		return Command{Kind: CmdUnknown}
	}
	length, err := parseHexUint(fields[1])
	if err != nil {
		return Command{Kind: CmdUnknown}
	}
	return Command{Kind: CmdReadMem, Addr: addr, Len: length}
}

// parseBreak handles "Z<type>,addr,kind" / "z<type>,addr,kind". Only
// breakpoint type 1 (hardware) is supported; any other type is still
// recognized syntactically (so the dispatcher can answer E01 instead of
// silently ignoring it) but routed to CmdUnsupportedBreak.
func parseBreak(payload string, wantKind CommandKind) Command {
	fields := strings.SplitN(payload[1:], ",", 3)
	if len(fields) != 3 {
		return Command{Kind: CmdUnknown}
	}
	btype, err := parseHexUint(fields[0])
	if err != nil {
		return Command{Kind: CmdUnknown}
	}
	addr, err := parseHexUint(fields[1])
	if err != nil {
		return Command{Kind: CmdUnknown}
	}
	bpKind, err := parseHexUint(fields[2])
	if err != nil || bpKind == 0 {
		return Command{Kind: CmdUnknown}
	}
	if btype != 1 {
		return Command{Kind: CmdUnsupportedBreak}
	}
	return Command{Kind: wantKind, Addr: addr, BpKind: bpKind}
}
