// Package log provides leveled logging for the gateway and back-office
// nodes. Time/date are left to the surrounding supervisor (systemd) by
// default; prefixes follow the sd-daemon priority convention so stderr can
// be consumed by journald without a separate formatter.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	NoteWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	NotePrefix  string = "<5>[NOTICE]   "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
	CritPrefix  string = "<2>[CRITICAL] "
)

var (
	DebugLog *log.Logger = log.New(DebugWriter, DebugPrefix, 0)
	InfoLog  *log.Logger = log.New(InfoWriter, InfoPrefix, 0)
	NoteLog  *log.Logger = log.New(NoteWriter, NotePrefix, log.Lshortfile)
	WarnLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	ErrLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.Llongfile)
	CritLog  *log.Logger = log.New(CritWriter, CritPrefix, log.Llongfile)

	DebugTimeLog *log.Logger = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	InfoTimeLog  *log.Logger = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	NoteTimeLog  *log.Logger = log.New(NoteWriter, NotePrefix, log.LstdFlags|log.Lshortfile)
	WarnTimeLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.LstdFlags|log.Lshortfile)
	ErrTimeLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Llongfile)
	CritTimeLog  *log.Logger = log.New(CritWriter, CritPrefix, log.LstdFlags|log.Llongfile)
)

func SetLogLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "notice":
		NoteWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Fprintf(os.Stderr, "log: invalid loglevel %q, using 'debug'\n", lvl)
		SetLogLevel("debug")
	}
}

func SetLogDateTime(v bool) { logDateTime = v }

func printStr(v ...interface{}) string { return fmt.Sprint(v...) }

func Debug(v ...interface{}) { emit(DebugWriter, DebugLog, DebugTimeLog, printStr(v...)) }
func Info(v ...interface{})  { emit(InfoWriter, InfoLog, InfoTimeLog, printStr(v...)) }
func Note(v ...interface{})  { emit(NoteWriter, NoteLog, NoteTimeLog, printStr(v...)) }
func Warn(v ...interface{})  { emit(WarnWriter, WarnLog, WarnTimeLog, printStr(v...)) }
func Error(v ...interface{}) { emit(ErrWriter, ErrLog, ErrTimeLog, printStr(v...)) }
func Crit(v ...interface{})  { emit(CritWriter, CritLog, CritTimeLog, printStr(v...)) }
func Print(v ...interface{}) { Info(v...) }

// Panic writes the message and panics; the process keeps running if the
// panic is recovered by the task scheduler.
func Panic(v ...interface{}) {
	Error(v...)
	panic("segw: panic triggered")
}

// Fatal writes the message and terminates the process. Used for the
// storage-fatal error class: a DB connection failure at startup.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func printfStr(format string, v ...interface{}) string { return fmt.Sprintf(format, v...) }

func Debugf(format string, v ...interface{}) { emit(DebugWriter, DebugLog, DebugTimeLog, printfStr(format, v...)) }
func Infof(format string, v ...interface{})  { emit(InfoWriter, InfoLog, InfoTimeLog, printfStr(format, v...)) }
func Notef(format string, v ...interface{})  { emit(NoteWriter, NoteLog, NoteTimeLog, printfStr(format, v...)) }
func Warnf(format string, v ...interface{})  { emit(WarnWriter, WarnLog, WarnTimeLog, printfStr(format, v...)) }
func Errorf(format string, v ...interface{}) { emit(ErrWriter, ErrLog, ErrTimeLog, printfStr(format, v...)) }
func Critf(format string, v ...interface{})  { emit(CritWriter, CritLog, CritTimeLog, printfStr(format, v...)) }
func Printf(format string, v ...interface{}) { Infof(format, v...) }

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

func emit(w io.Writer, plain, timed *log.Logger, msg string) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		timed.Output(3, msg)
	} else {
		plain.Output(3, msg)
	}
}

// Component returns a tagged logger for one of the many concurrently
// running session/proxy/cluster tasks, so interleaved log lines from
// different gateways or peers can be told apart.
type Component struct {
	tag string
}

func Named(tag string) Component { return Component{tag: tag} }

func (c Component) Debugf(format string, v ...interface{}) { Debugf("[%s] "+format, prepend(c.tag, v)...) }
func (c Component) Infof(format string, v ...interface{})  { Infof("[%s] "+format, prepend(c.tag, v)...) }
func (c Component) Warnf(format string, v ...interface{})  { Warnf("[%s] "+format, prepend(c.tag, v)...) }
func (c Component) Errorf(format string, v ...interface{}) { Errorf("[%s] "+format, prepend(c.tag, v)...) }

func prepend(tag string, v []interface{}) []interface{} {
	out := make([]interface{}, 0, len(v)+1)
	out = append(out, tag)
	out = append(out, v...)
	return out
}

// Uptime returns the time elapsed since the given start time.
func Uptime(since time.Time) time.Duration { return time.Since(since) }
