// Package logging builds the process logger from the verbose flag and the
// BROWSER_STREAM_* environment.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const (
	EnvDebug     = "BROWSER_STREAM_DEBUG"
	EnvLogLevel  = "BROWSER_STREAM_LOG_LEVEL"
	EnvLogFormat = "BROWSER_STREAM_LOG_FORMAT"
	EnvLogFile   = "BROWSER_STREAM_LOG_FILE"
)

var (
	outputOnce sync.Once
	output     io.Writer = os.Stderr
)

// Level resolves the effective level. An explicit BROWSER_STREAM_LOG_LEVEL
// wins over the verbose flag and BROWSER_STREAM_DEBUG.
func Level(verbose bool) hclog.Level {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if lvl := hclog.LevelFromString(v); lvl != hclog.NoLevel {
			return lvl
		}
	}
	if verbose || strings.TrimSpace(os.Getenv(EnvDebug)) == "1" {
		return hclog.Debug
	}
	return hclog.Info
}

// New returns the root logger.
func New(name string, verbose bool) hclog.Logger {
	return NewWithOutput(name, verbose, envOutput())
}

func NewWithOutput(name string, verbose bool, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      Level(verbose),
		Output:     w,
		JSONFormat: strings.EqualFold(strings.TrimSpace(os.Getenv(EnvLogFormat)), "json"),
	})
}

func envOutput() io.Writer {
	outputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv(EnvLogFile))
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "browser-stream log file open failed: %v\n", err)
			return
		}
		output = f
	})
	return output
}
