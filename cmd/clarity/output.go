package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/kalambet/clarity/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// stderrIsTerminal is evaluated once; status output goes to stderr.
var stderrIsTerminal = func() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}()

// colorEnabled reports whether ANSI colors should be emitted. The --no-color
// flag, the NO_COLOR convention and a non-terminal stderr all disable them.
func colorEnabled() bool {
	if noColor || !stderrIsTerminal {
		return false
	}
	_, set := os.LookupEnv("NO_COLOR")
	return !set
}

func colorize(color, text string) string {
	if !colorEnabled() {
		return text
	}
	return color + text + colorReset
}

// statusLabel colors a submission status by outcome.
func statusLabel(s storage.Status) string {
	switch s {
	case storage.StatusDone:
		return colorize(colorGreen, string(s))
	case storage.StatusFailed:
		return colorize(colorRed, string(s))
	default:
		return colorize(colorYellow, string(s))
	}
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}
