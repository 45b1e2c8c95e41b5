// Package nlog - aistore logger, provides buffering, timestamping, writing, and
// flushing/syncing/rotating
package nlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	logDir, aisrole string
	title           string
	host            string
	pid             = os.Getpid()

	toStderr, alsoToStderr bool

	nlogs [sevErr + 1]*nlog
	pool  sync.Pool

	onceInitFiles sync.Once

	// fn names filtered out of the "file:line" header, e.g. wrapper helpers
	// that would otherwise point the reader at this package instead of the
	// caller that actually logged.
	redactFnames = map[string]struct{}{}

	sevText = [...]string{sevInfo: "INFO", sevWarn: "WARNING", sevErr: "ERROR"}
)

func init() {
	if h, err := os.Hostname(); err == nil {
		host = h
	} else {
		host = "unknown"
	}
}

func sname() string {
	if aisrole == "" {
		return "ais"
	}
	return aisrole
}

func initFiles() {
	for sev := sevInfo; sev <= sevErr; sev++ {
		nlogs[sev] = newNlog(sev)
		if toStderr {
			continue
		}
		f, _, err := fcreate(sevText[sev], time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "nlog: failed to create %s log: %v\n", sevText[sev], err)
			nlogs[sev].erred.Store(true)
			continue
		}
		nlogs[sev].file = f
	}
}

// fcreate opens (creating directories as needed) a new log file for the
// given severity tag, returning the file, its name, and any error.
func fcreate(tag string, now time.Time) (f *os.File, name string, err error) {
	if logDir == "" {
		logDir = os.TempDir()
	}
	if err = os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", err
	}
	name, _ = logfname(tag, now)
	path := logDir + string(os.PathSeparator) + name
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	return f, path, err
}
