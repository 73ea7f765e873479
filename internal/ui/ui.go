// Package ui renders CLI output and prompts.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorAccent  = lipgloss.Color("#E62272")
	ColorSuccess = lipgloss.Color("#2EB872")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7A7A7A")
)

// Styles are the shared output styles.
var Styles = struct {
	Title   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Key:     lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Init picks the color profile. Color is off when stdout is not a terminal
// or NO_COLOR is set.
func Init() {
	if termenv.EnvNoColor() || !IsTerminal(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// Title writes a styled heading.
func Title(w io.Writer, text string) {
	fmt.Fprintln(w, Styles.Title.Render(text))
}

// OK writes a success line.
func OK(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, Styles.Success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Warn writes a warning line.
func Warn(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, Styles.Warning.Render("⚠")+" "+fmt.Sprintf(format, args...))
}

// Fail writes an error line.
func Fail(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, Styles.Error.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// KeyValues writes aligned "key: value" lines in key order.
func KeyValues(w io.Writer, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	width := 0
	for k := range kv {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		label := Styles.Key.Render(k + ":")
		pad := strings.Repeat(" ", width-len(k)+1)
		fmt.Fprintf(w, "  %s%s%s\n", label, pad, kv[k])
	}
}

// List writes one item per line, or a muted placeholder when empty.
func List(w io.Writer, items []string) {
	if len(items) == 0 {
		fmt.Fprintln(w, Styles.Muted.Render("  (none)"))
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "  %s\n", item)
	}
}

// Box writes text inside a rounded border.
func Box(w io.Writer, text string) {
	fmt.Fprintln(w, Styles.Box.Render(text))
}

// PromptPassword asks for a secret. On a terminal it uses a masked input;
// otherwise it reads one line from in.
func PromptPassword(title string, in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && IsTerminal(f) {
		var password string
		err := huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Run()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
