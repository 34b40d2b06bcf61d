package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// rotation selects how often the error log file is rolled over to a
// timestamped sibling.
type rotation int

const (
	rotationNever rotation = iota
	rotationHourly
	rotationDaily
	rotationWeekly
	rotationMonthly
)

func parseRotation(s string) rotation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return rotationHourly
	case "daily":
		return rotationDaily
	case "weekly":
		return rotationWeekly
	case "monthly":
		return rotationMonthly
	default:
		return rotationNever
	}
}

func (r rotation) truncate(t time.Time) time.Time {
	switch r {
	case rotationHourly:
		return t.Truncate(time.Hour)
	case rotationDaily:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	case rotationWeekly:
		y, m, d := t.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
		return day.AddDate(0, 0, -int(day.Weekday()))
	case rotationMonthly:
		y, m, _ := t.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Time{}
	}
}

// rotatingFile is an io.Writer over a single active log file that rolls the
// file to a timestamped name when the rotation window elapses, keeping at
// most maxFiles rotated siblings on disk. This mirrors how the file-output
// arm of a syslog-aware logger would behave, adapted to a plain local file
// since there is no daemon to hand rotation off to.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	rot      rotation
	maxFiles int
	file     *os.File
	period   time.Time
	now      func() time.Time
}

func newRotatingFile(path, rotation string, maxFiles int) (*rotatingFile, error) {
	rf := &rotatingFile{
		path:     path,
		rot:      parseRotation(rotation),
		maxFiles: maxFiles,
		now:      time.Now,
	}
	if err := rf.openLocked(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) openLocked() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening log file")
	}
	rf.file = f
	rf.period = rf.rot.truncate(rf.now())
	return nil
}

// Write implements io.Writer, rotating first if the current rotation window
// has elapsed.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.rot != rotationNever {
		if cur := rf.rot.truncate(rf.now()); cur.After(rf.period) {
			if err := rf.rollLocked(cur); err != nil {
				return 0, err
			}
		}
	}
	return rf.file.Write(p)
}

func (rf *rotatingFile) rollLocked(period time.Time) error {
	if rf.file != nil {
		rf.file.Close()
	}
	rotated := rf.path + "." + period.Format("20060102T150405")
	if err := os.Rename(rf.path, rotated); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "rotating log file")
	}
	if err := rf.openLocked(); err != nil {
		return err
	}
	rf.pruneLocked()
	return nil
}

// pruneLocked removes the oldest rotated siblings beyond maxFiles. A
// maxFiles of 0 or less disables retention pruning.
func (rf *rotatingFile) pruneLocked() {
	if rf.maxFiles <= 0 {
		return
	}
	dir := filepath.Dir(rf.path)
	base := filepath.Base(rf.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var siblings []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") {
			siblings = append(siblings, name)
		}
	}
	sort.Strings(siblings) // timestamp suffix sorts chronologically
	excess := len(siblings) - rf.maxFiles
	for i := 0; i < excess; i++ {
		os.Remove(filepath.Join(dir, siblings[i]))
	}
}

// reopen closes and reopens the file at its current path without rotating
// it, for external log rotation (e.g. an operator-run logrotate) to hand
// control back once it has renamed the file out from under us.
func (rf *rotatingFile) reopen() {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file != nil {
		rf.file.Close()
	}
	rf.openLocked()
}
