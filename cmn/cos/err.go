// Package cos provides common low-level types and utilities shared by
// every package in this module.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/NVIDIA/interpchannels/cmn/atomic"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/cmn/nlog"
)

type (
	// ErrNotFound covers an unknown channel/queue id (and an unreadable
	// config file) - "not found" in the sense of §7's Precondition error
	// category. A type with no registered packer is ErrNotShareable.
	ErrNotFound struct {
		what string
	}
	Errs struct {
		errs []error
		cnt  atomic.Int64
		mu   sync.Mutex
	}
)

// Error kinds enumerated by spec.md §6. Each is a distinct sentinel so
// callers can `errors.Is` against it; ErrUnbound additionally carries the
// origin interpreter id of the unbound item (see unbound.go).
var (
	ErrChannelClosed             = errors.New("channel closed")
	ErrChannelClosedWhileWaiting = errors.New("channel closed while send_wait was pending")
	ErrChannelEmpty              = errors.New("channel empty")
	ErrChannelNotEmpty           = errors.New("channel not empty")
	ErrQueueFull                 = errors.New("queue full")
	ErrQueueEmpty                = errors.New("queue empty")
	ErrQueueNeverBound           = errors.New("queue was never bound")
	ErrNotShareable              = errors.New("value not shareable: no packer registered for its type")
	ErrNoMoreIds                 = errors.New("id space exhausted")
	ErrAllocationFailure         = errors.New("allocation failure")
	ErrTimeout                   = errors.New("timed out")
	ErrInterrupted               = errors.New("interrupted")
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// Errs aggregates up to maxErrs distinct errors, for a caller that must
// keep going after one failure and report all of them at the end.
// add Unwrap() if need be

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		e.cnt.Store(int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(e.cnt.Load()) }

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
		err = fmt.Errorf("%v (and %d more error%s)", err, cnt-1, Plural(cnt-1))
	}
	s = err.Error()
	return
}

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

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

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
