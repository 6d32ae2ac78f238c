// Package commands implements the cl command tree. Commands parse
// flags, open the ledger, call into the domain packages, and render
// results; none of them contain reconciliation or query logic of their
// own.
package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/canvasledger/cl/config"
	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
)

// cliSuccess prints a green confirmation line to stdout.
func cliSuccess(msg string) {
	fmt.Println(pterm.Green(msg))
}

// cliWarning prints a yellow warning line to stderr so it never
// pollutes piped output.
func cliWarning(msg string) {
	fmt.Fprintln(os.Stderr, pterm.Yellow("Warning: "+msg))
}

// confirm asks a yes/no question on the terminal. Commands that
// destroy data call this unless --force was given.
func confirm(question string) bool {
	ok, err := pterm.DefaultInteractiveConfirm.Show(question)
	if err != nil {
		return false
	}
	return ok
}

// resolveFormat turns a --format flag into a concrete display format,
// falling back to the configured display.format default when the flag
// was left empty.
func resolveFormat(flag string) (string, error) {
	if flag == "" {
		if cfg, err := config.Load(); err == nil {
			flag = cfg.GetDisplayFormat()
		}
	}
	return display.ParseFormat(flag)
}

// parseCanvasID parses a positional Canvas ID argument.
func parseCanvasID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationf("invalid %s %q: must be a positive integer", what, arg)
	}
	return id, nil
}

// orNone renders an optional string field for table output.
func orNone(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

// emptyAsNone is orNone for plain strings.
func emptyAsNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// valueOrNull renders a change-log value, printing null for absent
// sides the same way the reconciliation logs do.
func valueOrNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
