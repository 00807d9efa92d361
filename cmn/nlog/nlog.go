// Package nlog provides a small buffered, leveled logger: timestamping,
// depth-aware caller attribution, threshold-triggered flush, and
// size-based rotation. Not the stdlib "log" package: lines are buffered
// and written to the log file in batches rather than one syscall per line.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/interpchannels/cmn/mono"
)

const (
	fixedSize   = 16 * 1024
	maxLineSize = 1024
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevText = "IWE"

var (
	toStderr     bool
	alsoToStderr bool

	MaxSize int64 = 4 * 1024 * 1024

	nlogs = [3]*nlog{newNlog(sevInfo), newNlog(sevWarn), newNlog(sevErr)}
)

type fixed struct {
	buf  []byte
	woff int
}

func (f *fixed) reset()         { f.woff = 0 }
func (f *fixed) avail() int     { return len(f.buf) - f.woff }
func (f *fixed) writeByte(b byte) {
	if f.avail() > 0 {
		f.buf[f.woff] = b
		f.woff++
	}
}
func (f *fixed) writeString(s string) {
	n := copy(f.buf[f.woff:], s)
	f.woff += n
}
func (f *fixed) Write(p []byte) (int, error) {
	n := copy(f.buf[f.woff:], p)
	f.woff += n
	return n, nil
}
func (f *fixed) eol() { f.writeByte('\n') }

type nlog struct {
	mw      sync.Mutex
	buf     *fixed
	sev     severity
	written atomic.Int64
	last    atomic.Int64
	file    *os.File
	erred   atomic.Bool
}

func newNlog(sev severity) *nlog {
	return &nlog{sev: sev, buf: &fixed{buf: make([]byte, fixedSize)}}
}

// InitFlags wires the -logtostderr / -alsologtostderr flags the way the
// rest of the ambient stack expects flag-driven configuration.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }

func Since() time.Duration {
	now := mono.NanoTime()
	a := time.Duration(now - nlogs[sevInfo].last.Load())
	b := time.Duration(now - nlogs[sevErr].last.Load())
	if a > b {
		return a
	}
	return b
}

func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, sev := range []severity{sevInfo, sevErr} {
		n := nlogs[sev]
		n.mw.Lock()
		if n.file != nil && n.buf.woff > 0 {
			n.flushLocked()
		}
		if ex && n.file != nil {
			n.file.Sync()
			n.file.Close()
		}
		n.mw.Unlock()
	}
}

func log(sev severity, depth int, format string, args ...any) {
	if !flag.Parsed() || toStderr {
		fb := &fixed{buf: make([]byte, maxLineSize)}
		sprintf(sev, depth, format, fb, args...)
		os.Stderr.Write(fb.buf[:fb.woff])
		return
	}

	fb := &fixed{buf: make([]byte, maxLineSize)}
	sprintf(sev, depth, format, fb, args...)
	if alsoToStderr || sev >= sevErr {
		os.Stderr.Write(fb.buf[:fb.woff])
	}
	if sev >= sevWarn {
		nlogs[sevErr].write(fb.buf[:fb.woff])
	}
	nlogs[sevInfo].write(fb.buf[:fb.woff])
}

func (n *nlog) write(line []byte) {
	n.mw.Lock()
	defer n.mw.Unlock()
	if n.buf.avail() < len(line) {
		n.flushLocked()
	}
	n.buf.Write(line)
	if n.buf.avail() < maxLineSize {
		n.flushLocked()
	}
}

// under n.mw
func (n *nlog) flushLocked() {
	if n.file == nil {
		if err := n.openLocked(time.Now()); err != nil {
			n.erred.Store(true)
			return
		}
	}
	if n.erred.Load() {
		os.Stderr.Write(n.buf.buf[:n.buf.woff])
	} else if wn, err := n.file.Write(n.buf.buf[:n.buf.woff]); err != nil {
		n.erred.Store(true)
	} else {
		n.written.Add(int64(wn))
		n.last.Store(mono.NanoTime())
	}
	n.buf.reset()
	if n.written.Load() >= MaxSize {
		n.file.Close()
		n.file = nil
	}
}

// under n.mw
func (n *nlog) openLocked(now time.Time) error {
	host, _ := os.Hostname()
	name := fmt.Sprintf("interpchannels.%s.%c.%s.log", host, sevText[n.sev], now.Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(os.TempDir(), name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	n.file = f
	n.written.Store(0)
	n.erred.Store(false)
	fmt.Fprintf(f, "Started up at %s, %s for %s/%s\n", now.Format(time.RFC3339), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

func sprintf(sev severity, depth int, format string, fb *fixed, args ...any) {
	formatHdr(sev, depth+2, fb)
	if format == "" {
		fmt.Fprintln(fb, args...)
	} else {
		fmt.Fprintf(fb, format, args...)
		fb.eol()
	}
}

func formatHdr(sev severity, depth int, fb *fixed) {
	_, fn, ln, ok := runtime.Caller(depth)
	fb.writeByte(sevText[sev])
	fb.writeByte(' ')
	fb.writeString(time.Now().Format("15:04:05.000000"))
	fb.writeByte(' ')
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	fb.writeString(fn)
	fb.writeByte(':')
	fb.writeString(strconv.Itoa(ln))
	fb.writeByte(' ')
}
