// Package printer writes coloured, human-facing CLI messages.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/fatih/color"
)

var (
	// Out receives normal output. Tests may swap it.
	Out io.Writer = os.Stdout

	// ErrOut receives error reports.
	ErrOut io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a step message with emphasis.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// State renders a lifecycle state in its colour: green for completed,
// red for rejected, yellow for revision, plain for pending.
func State(s blackboard.State) string {
	switch s {
	case blackboard.StateCompleted:
		return green.Sprint(string(s))
	case blackboard.StateRejected:
		return red.Sprint(string(s))
	case blackboard.StateNeedsRevision:
		return yellow.Sprint(string(s))
	default:
		return string(s)
	}
}

// Error prints a title, explanation and suggestions to ErrOut and returns
// an error carrying only the title, for cobra to report the exit status.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed in key order.
func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(ErrOut)
		for _, k := range keys {
			fmt.Fprintf(ErrOut, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(ErrOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(ErrOut, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}
