package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

const statusLabelWidth = 20

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	line := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", style.label)
	if message != "" {
		line += " " + message
	}
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

// renderCheckReport lays out sead check: one line per readiness check, the
// runtime wiring, then a pass count.
func renderCheckReport(report checkReport, colorize bool) []string {
	title := "== SEAD readiness =="
	lines := []string{title, strings.Repeat("-", len(title))}
	if colorize {
		blue := statusStyles[statusInfo].color
		lines = []string{blue + lines[0] + ansiReset, blue + lines[1] + ansiReset}
	}

	passed := 0
	for _, r := range report.Checks {
		kind := statusError
		if r.Passed {
			kind = statusOK
			passed++
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}

	rt := report.Runtime
	staging := "process-local cache"
	if rt.SharedStaging {
		staging = "shared, write-through"
	}
	lines = append(lines, renderStatusLine("Locks", statusInfo, rt.LockBackend+" backend", colorize))
	lines = append(lines, renderStatusLine("Staged SIP cache", statusInfo,
		fmt.Sprintf("%d/%d cached (%s)", rt.CachedSIPs, rt.CacheCapacity, staging), colorize))
	if len(rt.Fixity) == 0 {
		lines = append(lines, renderStatusLine("Fixity", statusWarn, "disabled; uploads carry no digests", colorize))
	} else {
		lines = append(lines, renderStatusLine("Fixity", statusInfo, strings.Join(rt.Fixity, ", "), colorize))
	}

	summary := statusOK
	if !report.Passed {
		summary = statusError
	}
	lines = append(lines, renderStatusLine("Summary", summary,
		fmt.Sprintf("%d of %d checks passed", passed, len(report.Checks)), colorize))
	return lines
}

// shouldColorize reports whether writer is an interactive terminal.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
