// Package logging constructs the process logger. Output is JSON on stdout;
// PRETTY=1 switches to a human-readable console writer on stderr and
// DEBUG=1 lowers the global level to debug.
package logging

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Logger returns the process-wide logger, building it on first use.
func Logger() zerolog.Logger {
	once.Do(func() {
		logger = NewLogger()
		zerolog.DefaultContextLogger = &logger
	})
	return logger
}

// Component returns the process logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// NewLogger builds a fresh logger honouring the PRETTY and DEBUG switches.
func NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	zerolog.CallerMarshalFunc = callerMarshal

	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	l = l.Hook(callerHook{})

	if os.Getenv("PRETTY") == "1" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return l
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

type callerHook struct{}

func (callerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}

func callerMarshal(pc uintptr, file string, line int) string {
	function := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name := fn.Name()
		if slash := strings.LastIndex(name, "/"); slash > 0 {
			name = name[slash+1:]
		}
		function = " " + name + "()"
	}
	return file + ":" + strconv.Itoa(line) + function
}
