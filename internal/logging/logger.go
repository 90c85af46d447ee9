// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Config holds logging configuration options.
type Config struct {
	Level        string    // Level is one of trace, debug, info, warning, error, fatal, panic
	Format       string    // Format is either text or json
	ReportCaller bool      // ReportCaller adds the calling function and file to every entry
	Output       io.Writer // Output defaults to stdout
}

// Configure sets up the standard logger according to c.
func Configure(c Config) (err error) {
	parsedLevel, err := log.ParseLevel(c.Level)
	if err != nil {
		return // unknown level name
	}

	// Resolve the formatter first so that an invalid format leaves the logger untouched
	var formatter log.Formatter

	switch c.Format {
	case "text":
		formatter = &log.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}

	// Tests hand over a buffer, the exporter logs to stdout
	if c.Output == nil {
		c.Output = os.Stdout
	}

	log.SetLevel(parsedLevel)
	log.SetFormatter(formatter)
	log.SetReportCaller(c.ReportCaller) // file and line of the caller on every entry
	log.SetOutput(c.Output)

	return
}
