// Package cos provides common low-level types and utilities shared across
// this module's packages.
package cos

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	"github.com/carla-simulator/streamcore/cmn/debug"
	"github.com/carla-simulator/streamcore/cmn/nlog"
)

type (
	// ErrNotReady is returned when a session, stream, or sensor token is
	// addressed before its handshake has completed.
	ErrNotReady struct {
		what string
	}
	// ErrProtocol wraps a violation of the wire framing or command contract:
	// a bad magic/size field, an out-of-order command, an unknown opcode.
	ErrProtocol struct {
		what string
	}
	// ErrSerialization wraps a failure to encode/decode a fixed-layout
	// payload (ActorDynamicState, EpisodeState, CommandHeader, Token).
	ErrSerialization struct {
		what string
		err  error
	}
	ErrSignal struct {
		signal syscall.Signal
	}
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotReady(format string, a ...any) *ErrNotReady {
	return &ErrNotReady{fmt.Sprintf(format, a...)}
}

func (e *ErrNotReady) Error() string { return e.what + ": not ready" }

func IsErrNotReady(err error) bool {
	_, ok := err.(*ErrNotReady)
	return ok
}

func NewErrProtocol(format string, a ...any) *ErrProtocol {
	return &ErrProtocol{fmt.Sprintf(format, a...)}
}

func (e *ErrProtocol) Error() string { return "protocol error: " + e.what }

func IsErrProtocol(err error) bool {
	_, ok := err.(*ErrProtocol)
	return ok
}

func NewErrSerialization(what string, err error) *ErrSerialization {
	return &ErrSerialization{what: what, err: err}
}

func (e *ErrSerialization) Error() string {
	if e.err == nil {
		return "serialization error: " + e.what
	}
	return fmt.Sprintf("serialization error: %s: %v", e.what, e.err)
}

func (e *ErrSerialization) Unwrap() error { return e.err }

// Errs
// add Unwrap() if need be

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	// first, check for duplication
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...) // up to maxErrs
		e.mu.Unlock()
	}
	return
}

// Errs is an error
func (e *Errs) Error() (s string) {
	var (
		err error
		cnt = e.Cnt()
	)
	if cnt == 0 {
		return
	}
	e.mu.Lock()
	if cnt = len(e.errs); cnt > 0 {
		err = e.errs[0]
	}
	e.mu.Unlock()
	if err == nil {
		return // unlikely
	}
	if cnt > 1 {
		err = fmt.Errorf("%v (and %d more error%s)", err, cnt-1, plural(cnt-1))
	}
	s = err.Error()
	return
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// IS-syscall helpers — used to classify a session's IoError as retriable
// (reconnect-worthy) vs terminal.
//

func UnwrapSyscallErr(err error) error {
	if syscallErr, ok := err.(*os.SyscallError); ok {
		return syscallErr.Unwrap()
	}
	return nil
}

func IsErrSyscallTimeout(err error) bool {
	syscallErr, ok := err.(*os.SyscallError)
	return ok && syscallErr.Timeout()
}

// likely out of socket descriptors
func IsErrConnectionNotAvail(err error) (yes bool) {
	return errors.Is(err, syscall.EADDRNOTAVAIL)
}

// retriable conn errs
func IsErrConnectionRefused(err error) (yes bool) { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) (yes bool)   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) (yes bool)        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) (yes bool) {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	_, ok := err.(*net.DNSError)
	return ok
}

// IsUnreachable reports whether err looks like a transient dial/connect
// failure a Secondary's reconnect loop should retry rather than abandon.
func IsUnreachable(err error) bool {
	return IsErrConnectionRefused(err) || isErrDNSLookup(err) || errors.Is(err, os.ErrDeadlineExceeded)
}

//
// ErrSignal
//

// https://tldp.org/LDP/abs/html/exitcodes.html
func (e *ErrSignal) ExitCode() int               { return 128 + int(e.signal) }
func NewSignalError(s syscall.Signal) *ErrSignal { return &ErrSignal{signal: s} }
func (e *ErrSignal) Error() string               { return fmt.Sprintf("Signal %d", e.signal) }

//
// Abnormal Termination
//

const fatalPrefix = "FATAL ERROR: "

func Exitf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	_exit(msg)
}

// +log
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg+"\n")
		nlog.Flush(true)
	}
	_exit(msg)
}

func ExitLog(a ...any) {
	msg := fatalPrefix + fmt.Sprint(a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg+"\n")
		nlog.Flush(true)
	}
	_exit(msg)
}

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
