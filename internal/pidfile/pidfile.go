// Package pidfile writes and removes the daemon's PID file. No dependency
// in the example pack covers this narrow a concern, so it's plain os/io
// against the filesystem.
package pidfile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Write creates (or truncates) path and writes the current process's PID.
func Write(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "writing pid file")
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return errors.Wrap(err, "writing pid file")
}

// Remove deletes path, ignoring a not-exist error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "removing pid file")
}
