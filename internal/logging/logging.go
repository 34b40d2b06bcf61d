// Package logging wires up the generic error log and the span-ordered
// access log, built on logrus the way the rest of the resolver and listener
// code uses it.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide generic error logger.
var Log = logrus.StandardLogger()

// Access is the process-wide span-ordered access logger, built by Configure.
// It is always non-nil after Configure runs, writing to stdout/stderr until
// a [log] dir is configured. Handlers consult Metadata.AccessLog to decide
// whether to actually open/record/close spans against it.
var Access *AccessLog

var activeRotation *rotatingFile
var activeAccessRotation *rotatingFile

// Configure sets the log level and, if dir is non-empty, redirects error and
// access output to rotating files under dir (error.log, access.log). level
// is one of trace|debug|info|warn|error.
func Configure(level, dir string, maxFiles int, rotation string) error {
	lvl, err := logrus.ParseLevel(orDefault(level, "info"))
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var accessOut, errorOut io.Writer = os.Stdout, os.Stderr
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		errRot, err := newRotatingFile(filepath.Join(dir, "error.log"), rotation, maxFiles)
		if err != nil {
			return err
		}
		activeRotation = errRot
		errorOut = io.MultiWriter(os.Stderr, errRot)
		Log.SetOutput(errorOut)

		accessRot, err := newRotatingFile(filepath.Join(dir, "access.log"), rotation, maxFiles)
		if err != nil {
			return err
		}
		activeAccessRotation = accessRot
		accessOut = accessRot
	}
	Access = NewAccessLog(accessOut, errorOut)
	return nil
}

// Reopen closes and reopens the rotating error-log and access-log files in
// place; wired to SIGUSR1 so an external logrotate can truncate/rename them
// safely.
func Reopen() {
	if activeRotation != nil {
		activeRotation.reopen()
	}
	if activeAccessRotation != nil {
		activeAccessRotation.reopen()
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
