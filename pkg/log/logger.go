// Package log provides the loader's process-wide logger. The loader runs on
// a single core with no OS underneath it, so Fatalf cannot call os.Exit — it
// must halt the machine instead. Halt is injected so tests can observe a
// fatal without hanging, while the real loader wires in the architecture
// halt thunk.
package log

import (
	"log"
	"os"
)

// Halter stops execution after a fatal error has been logged. The real
// implementation disables interrupts (where the architecture supports it)
// and loops forever; it never returns.
type Halter interface {
	Halt()
}

type osExitHalter struct{}

func (osExitHalter) Halt() { os.Exit(1) }

// Logger describes a logger to be used throughout the loader.
type Logger interface {
	// Warnf logs a warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and halts the loader. It never returns.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere in the loader.
var DefaultLogger Logger

// DefaultHalter is invoked by DefaultLogger.Fatalf after logging. Its
// default calls os.Exit(1) until SetHalter replaces it. Tests replace it
// with a Halter that panics or records instead of hanging.
var DefaultHalter Halter = osExitHalter{}

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

// Warnf implements Logger.
func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[hyper][WARN] "+format, args...)
}

// Errorf implements Logger.
func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[hyper][ERROR] "+format, args...)
}

// Fatalf implements Logger. It logs then calls DefaultHalter.Halt.
func (logger logWrapper) Fatalf(format string, args ...interface{}) {
	logger.Logger.Printf("[hyper][FATAL] "+format, args...)
	DefaultHalter.Halt()
}

// Warnf logs a warning message via DefaultLogger.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message via DefaultLogger.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}

// Fatalf logs a fatal message via DefaultLogger and halts. It never returns.
func Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf(format, args...)
}

// SetHalter replaces DefaultHalter. Used by tests and by the firmware entry
// point once the real architecture halt thunk is available.
func SetHalter(h Halter) {
	DefaultHalter = h
}
