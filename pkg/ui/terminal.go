// Package ui prints the command line tool's terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Banner printed at the start of a scrape
const Banner = `
  ┌───────────────────────────────────────┐
  │  imgscraper - search result harvester │
  └───────────────────────────────────────┘
`

var (
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	noColor bool
	quiet   bool
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		plain := noColor
		mu.Unlock()
		if plain {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// SetOutput redirects all printing, returning the previous writer
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// SetNoColor disables ANSI colors
func SetNoColor(v bool) {
	mu.Lock()
	defer mu.Unlock()
	noColor = v
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(v bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = v
}

func writer(always bool) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if quiet && !always {
		return io.Discard
	}
	return out
}

// PrintBanner prints the banner in cyan
func PrintBanner() {
	fmt.Fprint(writer(false), Cyan(Banner))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(writer(true), Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(writer(true), Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(writer(false), Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(writer(false), "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(writer(false), Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(writer(false), Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(writer(false), Magenta(msg))
}
