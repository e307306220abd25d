package idp

import (
	"context"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger contract used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// ResolveLogger returns the provider and logger to use for the named
// component. A logger returned by the provider wins over the fallback logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return provider, named
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return staticProvider{logger: logger}, logger
}

type staticProvider struct {
	logger Logger
}

func (p staticProvider) GetLogger(string) Logger {
	return p.logger
}

func defaultLogger() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Fatal(string, ...any) {}

func (n noopLogger) WithContext(context.Context) Logger {
	return n
}
