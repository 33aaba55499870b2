// Command dwire-gdb is a GDB server for AVR 8-bit microcontrollers,
// driving the target's debugWire on-chip debug protocol through a
// USB-to-TTL adapter wired to RESET.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/example/dwire-gdb/internal/debugwire"
	"github.com/example/dwire-gdb/internal/dwerr"
	"github.com/example/dwire-gdb/internal/rsp"
	"github.com/example/dwire-gdb/internal/trace"
)

const versionString = "dwire-gdb 0.1.0"

const defaultHost = "127.0.0.1"
const defaultPort = "4444"

// config holds one parsed invocation. All fields are filled in by
// parseArgs; nothing here is a global.
type config struct {
	help, version      bool
	debug              bool
	identify, fuses    bool
	disable            bool
	serialPort         string
	baud               uint32
	host, port         string
}

func printHelp() {
	fmt.Printf(
		"usage:\n"+
			"    dwire-gdb [-h|-v|-i|-f|-z] [-d] [-s SERIAL_PORT] [-b BAUD] [-t HOST] [-p PORT]\n"+
			"              - A GDB server for AVR 8 bit microcontrollers, using debugWire\n"+
			"                protocol through USB-to-TTL adapters.\n"+
			"\n"+
			"optional arguments:\n"+
			"    -h              show this help message and exit\n"+
			"    -v              show version and exit\n"+
			"    -i              detect target mcu signature and exit\n"+
			"    -f              detect target mcu fuses and exit\n"+
			"    -z              disable debugWire and exit\n"+
			"    -d              enable debug\n"+
			"    -s SERIAL_PORT  set serial port to connect to (e.g. /dev/ttyUSB0,\n"+
			"                    default: detect)\n"+
			"    -b BAUD         set serial baud rate (default: auto-discover)\n"+
			"    -t HOST         set server listen address (default: %s)\n"+
			"    -p PORT         set server listen port (default: %s)\n",
		defaultHost, defaultPort)
}

func printUsage() {
	fmt.Println("usage: dwire-gdb [-h|-v|-i|-f|-z] [-d] [-s SERIAL_PORT] [-b BAUD] [-t HOST] [-p PORT]")
}

// parseArgs implements the single-letter "-x VAL" / "-xVAL" flag
// convention: every argument that takes a value accepts it either
// joined or as the following argument.
func parseArgs(args []string) (config, error) {
	cfg := config{host: defaultHost, port: defaultPort}

	next := func(i *int, joined string) (string, error) {
		if joined != "" {
			return joined, nil
		}
		*i++
		if *i >= len(args) {
			return "", dwerr.New(dwerr.Usage, "missing argument value")
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if len(a) < 2 || a[0] != '-' {
			return cfg, dwerr.Newf(dwerr.Usage, "invalid argument: %s", a)
		}
		flag := a[1]
		joined := a[2:]
		switch flag {
		case 'h':
			cfg.help = true
		case 'v':
			cfg.version = true
		case 'i':
			cfg.identify = true
		case 'f':
			cfg.fuses = true
		case 'z':
			cfg.disable = true
		case 'd':
			cfg.debug = true
		case 's':
			v, err := next(&i, joined)
			if err != nil {
				return cfg, err
			}
			cfg.serialPort = v
		case 'b':
			v, err := next(&i, joined)
			if err != nil {
				return cfg, err
			}
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return cfg, dwerr.Newf(dwerr.Usage, "invalid baud rate: %s", v)
			}
			cfg.baud = uint32(n)
		case 't':
			v, err := next(&i, joined)
			if err != nil {
				return cfg, err
			}
			cfg.host = v
		case 'p':
			v, err := next(&i, joined)
			if err != nil {
				return cfg, err
			}
			cfg.port = v
		default:
			return cfg, dwerr.Newf(dwerr.Usage, "invalid argument: -%c", flag)
		}
	}
	return cfg, nil
}

// discoverSerialPort globs /dev/ttyUSB* when -s was not given; the
// protocol offers no other way to find the adapter, so exactly one match
// is required.
func discoverSerialPort() (string, error) {
	matches, err := filepath.Glob("/dev/ttyUSB*")
	if err != nil {
		return "", dwerr.Wrap(dwerr.Usage, "failed to glob /dev/ttyUSB*", err)
	}
	switch len(matches) {
	case 0:
		return "", dwerr.New(dwerr.Usage, "no serial port found matching /dev/ttyUSB*; pass -s explicitly")
	case 1:
		return matches[0], nil
	default:
		return "", dwerr.Newf(dwerr.Usage,
			"more than one serial port found matching /dev/ttyUSB*, pass -s explicitly: %v", matches)
	}
}

func run() int {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		printUsage()
		fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
		return 1
	}

	if cfg.help {
		printHelp()
		return 0
	}
	if cfg.version {
		fmt.Println(versionString)
		return 0
	}

	tr := trace.New(cfg.debug, os.Stderr)

	serialPort := cfg.serialPort
	if serialPort == "" {
		var err error
		serialPort, err = discoverSerialPort()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
			return 1
		}
	}

	engine, err := debugwire.Open(serialPort, cfg.baud, tr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
		return 1
	}
	defer engine.Close()

	switch {
	case cfg.identify:
		fmt.Println(engine.Device.Name)
		return 0
	case cfg.fuses:
		fuses, err := engine.GetFuses()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
			return 1
		}
		fmt.Println(fuses)
		return 0
	case cfg.disable:
		if err := engine.Disable(); err != nil {
			fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
			return 1
		}
		return 0
	}

	if err := rsp.Serve(cfg.host, cfg.port, engine, tr); err != nil {
		fmt.Fprintf(os.Stderr, "dwire-gdb: error: %s\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
