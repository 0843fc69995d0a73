// Package main implements ktsanctl, the control tool of the ktsan runtime.
//
// ktsanctl runs the runtime's built-in self-tests, replays demonstration
// scenarios with real race reports, and prints version information.
//
// Usage:
//
//	ktsanctl tests                 # run the self-tests
//	ktsanctl demo [scenario]       # replay a scenario, print its reports
//	ktsanctl stats [scenario]      # replay a scenario, print the counters
//	ktsanctl version [want]        # print or check the runtime version
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kolkov/ktsan/race"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch cmd := args[0]; cmd {
	case "tests":
		return testsCommand(stdout, stderr)
	case "demo":
		return demoCommand(args[1:], stdout, stderr, false)
	case "stats":
		return demoCommand(args[1:], stdout, stderr, true)
	case "version", "--version", "-v":
		return versionCommand(args[1:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `ktsanctl - ktsan race detector runtime control

USAGE:
    ktsanctl <command> [arguments]

COMMANDS:
    tests              Run the runtime self-tests
    demo [scenario]    Replay a scenario and print its race reports
    stats [scenario]   Replay a scenario and print the runtime counters
    version [want]     Print the version, or check compatibility with want
    help               Show this help message

SCENARIOS:
    %s

ENVIRONMENT:
    KTSAN_OPTIONS      Runtime options, e.g. "verbose=1 sync_objects=4096"
`, strings.Join(scenarioNames(), ", "))
}

func testsCommand(stdout, stderr io.Writer) int {
	if err := race.RunSelfTests(stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func versionCommand(args []string, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "ktsanctl version %s\n", race.Version)
	if len(args) == 0 {
		return 0
	}
	if err := race.CheckVersion(args[0]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "compatible with %s\n", args[0])
	return 0
}

// demoCommand replays a scenario on a runtime configured from
// KTSAN_OPTIONS. Reports go to stdout; with stats set, only the counters
// are printed.
func demoCommand(args []string, stdout, stderr io.Writer, stats bool) int {
	name := "race"
	if len(args) > 0 {
		name = args[0]
	}
	sc, ok := scenarios[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown scenario %q (have %s)\n", name, strings.Join(scenarioNames(), ", "))
		return 2
	}

	cfg, err := race.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Output = stdout
	if stats {
		cfg.Output = io.Discard
	}
	rt, err := race.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := sc(rt); err != nil {
		fmt.Fprintf(stderr, "Error: scenario %s: %v\n", name, err)
		return 1
	}
	if stats {
		out, err := rt.Command("stats")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprint(stdout, out)
	}
	if err := rt.Close(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
