package main

import "testing"

func TestParseArgsJoinedAndSeparateForms(t *testing.T) {
	cfg, err := parseArgs([]string{"-s", "/dev/ttyUSB0", "-b9600", "-t", "0.0.0.0", "-p4000"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.serialPort != "/dev/ttyUSB0" {
		t.Errorf("serialPort = %q, want /dev/ttyUSB0", cfg.serialPort)
	}
	if cfg.baud != 9600 {
		t.Errorf("baud = %d, want 9600", cfg.baud)
	}
	if cfg.host != "0.0.0.0" {
		t.Errorf("host = %q, want 0.0.0.0", cfg.host)
	}
	if cfg.port != "4000" {
		t.Errorf("port = %q, want 4000", cfg.port)
	}
}

func TestParseArgsFlagsWithoutValues(t *testing.T) {
	cfg, err := parseArgs([]string{"-h", "-v", "-d", "-i", "-f", "-z"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !cfg.help || !cfg.version || !cfg.debug || !cfg.identify || !cfg.fuses || !cfg.disable {
		t.Fatalf("not all flags were set: %+v", cfg)
	}
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.host != defaultHost || cfg.port != defaultPort {
		t.Fatalf("defaults = %q/%q, want %q/%q", cfg.host, cfg.port, defaultHost, defaultPort)
	}
	if cfg.baud != 0 {
		t.Fatalf("baud default = %d, want 0 (auto-discover)", cfg.baud)
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"-q"}); err == nil {
		t.Fatal("expected error for unknown flag -q")
	}
}

func TestParseArgsRejectsMissingValue(t *testing.T) {
	if _, err := parseArgs([]string{"-s"}); err == nil {
		t.Fatal("expected error when -s is given without a value")
	}
}

func TestParseArgsRejectsBadBaud(t *testing.T) {
	if _, err := parseArgs([]string{"-bnotanumber"}); err == nil {
		t.Fatal("expected error for non-numeric baud")
	}
}

func TestParseArgsRejectsBareWord(t *testing.T) {
	if _, err := parseArgs([]string{"help"}); err == nil {
		t.Fatal("expected error for an argument not starting with '-'")
	}
}
