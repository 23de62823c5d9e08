// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the genflow CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// GenFlow palette
var (
	ColorAccent  = lipgloss.Color("#7C6CF2") // Primary violet, titles
	ColorAccent2 = lipgloss.Color("#5B8DEF") // Secondary blue, highlights
	ColorBorder  = lipgloss.Color("#4B4F6B")

	ColorSuccess = lipgloss.Color("#3CCB7F")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C7086")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Header    lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAccent2).Bold(true),
	Header:    lipgloss.NewStyle().Bold(true).Foreground(ColorAccent2),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "◐"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning, IconRunning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// StatusIcon maps a job status to its icon.
func StatusIcon(s api.JobStatus) Icon {
	switch s {
	case api.StatusCompleted:
		return IconSuccess
	case api.StatusFailed:
		return IconError
	case api.StatusRunning:
		return IconRunning
	default:
		return IconPending
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled output for one Level.
//
// Machine output goes unstyled to Out; warnings and errors in machine mode
// go to Err so scripts can parse Out.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level Level
}

// NewPrinter creates a Printer.
func NewPrinter(out, errOut io.Writer, level Level) *Printer {
	return &Printer{Out: out, Err: errOut, Level: level}
}

func (p *Printer) machine() bool { return p.Level == LevelMachine }

// Title prints a styled title. Suppressed in machine mode.
func (p *Printer) Title(text string) {
	if p.machine() {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Level {
	case LevelMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.Level {
	case LevelMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.Level {
	case LevelMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.machine() {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints content under a title in a rounded box
func (p *Printer) Box(title, content string) {
	if p.machine() {
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// KV prints aligned key/value pairs. pairs alternates key and value.
func (p *Printer) KV(pairs ...string) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		width = max(width, len(pairs[i]))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if p.machine() {
			fmt.Fprintf(p.Out, "%s=%s\n", pairs[i], pairs[i+1])
			continue
		}
		key := fmt.Sprintf("%-*s", width, pairs[i])
		fmt.Fprintf(p.Out, "%s  %s\n", Styles.Muted.Render(key), pairs[i+1])
	}
}

// Table prints rows under headers. Machine mode emits tab-separated
// values with a header line.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.machine() {
		fmt.Fprintln(p.Out, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.Out, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = Styles.Header.Render(pad(h, widths[i]))
	}
	fmt.Fprintln(p.Out, strings.Join(cells, "  "))
	for _, row := range rows {
		for i := range cells {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = pad(v, widths[i])
		}
		fmt.Fprintln(p.Out, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.Out, Styles.Muted.Render("(none)"))
	}
}

// Status renders a job status for a table cell or a progress line.
func (p *Printer) Status(s api.JobStatus) string {
	if p.machine() {
		return string(s)
	}
	text := string(s)
	switch s {
	case api.StatusCompleted:
		text = Styles.Success.Render(text)
	case api.StatusFailed:
		text = Styles.Error.Render(text)
	case api.StatusRunning:
		text = Styles.Warning.Render(text)
	default:
		text = Styles.Muted.Render(text)
	}
	if p.Level == LevelMinimal {
		return string(StatusIcon(s)) + " " + string(s)
	}
	return StatusIcon(s).Render() + " " + text
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
