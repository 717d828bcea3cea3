// Package logger provides console and structured logging for execstream.
//
// The printf helpers are used by the CLI for human-facing banner lines.
// Everything else logs through Slog/WithContext.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	consoleMu  sync.Mutex
	consoleOut io.Writer = os.Stdout
	consoleErr io.Writer = os.Stderr
	quiet      bool
)

// SetConsole redirects the printf helpers. Pass nil to keep the current writer.
func SetConsole(out, errOut io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if out != nil {
		consoleOut = out
	}
	if errOut != nil {
		consoleErr = errOut
	}
}

// SetQuiet suppresses Info/Printf/Println output (errors still print)
func SetQuiet(q bool) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	quiet = q
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if quiet {
		return
	}
	_, _ = fmt.Fprintf(consoleOut, format+"\n", v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	_, _ = fmt.Fprintf(consoleErr, "ERROR: "+format+"\n", v...)
}

// Println logs a simple message
func Println(v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if quiet {
		return
	}
	_, _ = fmt.Fprintln(consoleOut, v...)
}

// Printf logs a formatted message
func Printf(format string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if quiet {
		return
	}
	_, _ = fmt.Fprintf(consoleOut, format, v...)
}
