// Package nlog is a small leveled logger in the style the teacher repo
// uses internally (no external logging library is pulled in — the
// ecosystem convention here is to roll a thin wrapper, not to import
// zap/logrus).
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.Ldate|log.Lmicroseconds|log.Lshortfile)

// verbosity is a global atomic level, analogous to the teacher's
// `cmn.Rom.FastV(level, module)` gate.
var verbosity int32

func SetVerbosity(v int) { atomic.StoreInt32(&verbosity, int32(v)) }

// FastV reports whether logging at the given level is enabled for module.
// The module argument is accepted (and ignored beyond being part of the
// call shape) to mirror the teacher's per-subsystem verbosity checks;
// we keep a single global level rather than per-module overrides.
func FastV(level int, _module string) bool {
	return atomic.LoadInt32(&verbosity) >= int32(level)
}

func Infof(format string, args ...any)    { std.Output(2, "I "+fmt.Sprintf(format, args...)) }
func Warningf(format string, args ...any) { std.Output(2, "W "+fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any)   { std.Output(2, "E "+fmt.Sprintf(format, args...)) }

func Infoln(args ...any)    { std.Output(2, "I "+fmt.Sprintln(args...)) }
func Warningln(args ...any) { std.Output(2, "W "+fmt.Sprintln(args...)) }
func Errorln(args ...any)   { std.Output(2, "E "+fmt.Sprintln(args...)) }
