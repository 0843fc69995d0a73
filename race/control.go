package race

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrUnknownCommand is returned by Command for a command it does not know.
var ErrUnknownCommand = errors.New("race: unknown command")

// Command runs one line of the control interface and returns its output:
//
//	enable           turn detection on
//	disable          turn detection off
//	stats            print every counter, one "name value" line each
//	tests            run the built-in self-tests
//	version [want]   print the version; with an argument, check that a
//	                 host built against want can use this runtime
func (rt *Runtime) Command(line string) (string, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}

	switch cmd := args[0]; cmd {
	case "enable":
		if rt.closed.Load() {
			return "", ErrClosed
		}
		rt.Enable()
		return "enabled\n", nil
	case "disable":
		rt.Disable()
		return "disabled\n", nil
	case "stats":
		return formatStats(rt.Stats()), nil
	case "tests":
		var buf bytes.Buffer
		err := RunSelfTests(&buf)
		return buf.String(), err
	case "version":
		out := fmt.Sprintf("ktsan %s\n", Version)
		if len(args) > 1 {
			if err := CheckVersion(args[1]); err != nil {
				return out, err
			}
			out += fmt.Sprintf("compatible with %s\n", args[1])
		}
		return out, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func formatStats(s map[string]uint64) string {
	var b strings.Builder
	for _, name := range slices.Sorted(maps.Keys(s)) {
		fmt.Fprintf(&b, "%-24s %d\n", name, s[name])
	}
	return b.String()
}
