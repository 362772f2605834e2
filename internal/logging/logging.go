// Package logging provides a thin prefix wrapper around the standard
// library logger. No structured-logging library appears anywhere in the
// retrieved example pack, so plain log.Printf with a subsystem tag (matching
// the original Python source's "[EVAL] ..." / "[DB] ..." prefixes) is the
// grounded choice rather than pulling in zerolog/zap/logrus.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a subsystem tag in brackets.
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger tagged with the given subsystem name, e.g. "ORCH".
func New(tag string) *Logger {
	return &Logger{
		tag: tag,
		std: log.New(os.Stdout, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("[%s] "+format, append([]any{l.tag}, args...)...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("[%s][WARN] "+format, append([]any{l.tag}, args...)...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("[%s][ERROR] "+format, append([]any{l.tag}, args...)...)
}
