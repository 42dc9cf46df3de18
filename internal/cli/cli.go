package cli

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/walkanth/sweptgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns populated Options, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Options, bool, error) {
	flagSet := flag.NewFlagSet("sweptgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
sweptgo - a swept-rule solver for 2D stencil PDEs on mixed CPU/GPU ranks.

Usage:
  sweptgo [options] [CONFIG_PATH]

Arguments:
  CONFIG_PATH
    Path to an .hcl run configuration file.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the run configuration file.")
	cFlag := flagSet.String("c", "", "Path to the run configuration file (shorthand).")
	ranksFlag := flagSet.Int("ranks", 1, "Number of ranks to spawn.")
	hostsFlag := flagSet.String("hosts", "", "Comma-separated host name per rank; ranks sharing a name share a node.")
	gpusFlag := flagSet.String("gpus", "", "Comma-separated GPU device ids visible on each host.")
	workersFlag := flagSet.Int("workers", 0, "Compute pool size per CPU rank. 0 sizes it from the CPU count.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *configFlag != "" {
		path = *configFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	hosts, err := splitList(*hostsFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: "invalid hosts: " + err.Error()}
	}
	gpus, err := splitInts(*gpusFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: "invalid gpus: " + err.Error()}
	}

	opts, err := app.NewOptions(app.Options{
		ConfigPath: path,
		Ranks:      *ranksFlag,
		Hosts:      hosts,
		GPUs:       gpus,
		Workers:    *workersFlag,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return opts, false, nil
}

func splitList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty element at position %d", i)
		}
		parts[i] = p
	}
	return parts, nil
}

func splitInts(s string) ([]int, error) {
	names, err := splitList(s)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(names))
	for i, n := range names {
		v, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", n)
		}
		out[i] = v
	}
	return out, nil
}
