package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it in a new goroutine after a panic.
// A negative maxPanics restarts forever; reaching zero exits the process.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		if err := recover(); err != nil {
			entry := log.WithField("object", "infra").WithField("job", id)
			entry.Errorf("job panics with message: %v, %s", err, identifyPanic())
			if maxPanics == 0 {
				entry.Fatalln("panics limit exceeded, exiting")
			}
			if maxPanics > 0 {
				maxPanics--
			}
			entry.WithField("panics_left", maxPanics).Debug("recovering job")
			go GoRecoverable(maxPanics, id, f)
		}
	}()
	f()
}

// Safely runs f once and reports a panic as an error instead of crashing the caller.
func Safely(id string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v at %s", id, r, identifyPanic())
		}
	}()
	f()
	return nil
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
