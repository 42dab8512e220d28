// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log wraps seelog behind leveled free functions so the rest of the
// codebase never imports the logging backend directly.
package log

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	mu     sync.RWMutex
	logger seelog.LoggerInterface
	level  seelog.LogLevel = seelog.InfoLvl
)

const consoleConfigTemplate = `
<seelog minlevel="%s">
  <outputs formatid="common">
    <console/>
  </outputs>
  <formats>
    <format id="common" format="%%Date %%Time %%LEVEL | %%Msg%%n"/>
  </formats>
</seelog>`

// SetupLogger configures the package singleton. Call once at startup.
func SetupLogger(l seelog.LoggerInterface, lvl string) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	if parsed, ok := seelog.LogLevelFromString(strings.ToLower(lvl)); ok {
		level = parsed
	}
	logger.SetAdditionalStackDepth(1) //nolint:errcheck
}

// BuildConsoleLogger returns a console logger at the given minimum level.
func BuildConsoleLogger(lvl string) (seelog.LoggerInterface, error) {
	if _, ok := seelog.LogLevelFromString(strings.ToLower(lvl)); !ok {
		lvl = "info"
	}
	return seelog.LoggerFromConfigAsString(fmt.Sprintf(consoleConfigTemplate, strings.ToLower(lvl)))
}

func shouldLog(lvl seelog.LogLevel) (seelog.LoggerInterface, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return nil, false
	}
	return logger, lvl >= level
}

// Debugf formats and logs at the debug level.
func Debugf(format string, params ...interface{}) {
	if l, ok := shouldLog(seelog.DebugLvl); ok {
		l.Debugf(format, params...)
	}
}

// Infof formats and logs at the info level.
func Infof(format string, params ...interface{}) {
	if l, ok := shouldLog(seelog.InfoLvl); ok {
		l.Infof(format, params...)
	}
}

// Warnf formats and logs at the warn level.
func Warnf(format string, params ...interface{}) {
	if l, ok := shouldLog(seelog.WarnLvl); ok {
		l.Warnf(format, params...) //nolint:errcheck
	}
}

// Errorf formats and logs at the error level.
func Errorf(format string, params ...interface{}) {
	if l, ok := shouldLog(seelog.ErrorLvl); ok {
		l.Errorf(format, params...) //nolint:errcheck
	}
}

// Debug logs at the debug level.
func Debug(v ...interface{}) {
	if l, ok := shouldLog(seelog.DebugLvl); ok {
		l.Debug(v...)
	}
}

// Info logs at the info level.
func Info(v ...interface{}) {
	if l, ok := shouldLog(seelog.InfoLvl); ok {
		l.Info(v...)
	}
}

// Warn logs at the warn level.
func Warn(v ...interface{}) {
	if l, ok := shouldLog(seelog.WarnLvl); ok {
		l.Warn(v...) //nolint:errcheck
	}
}

// Error logs at the error level.
func Error(v ...interface{}) {
	if l, ok := shouldLog(seelog.ErrorLvl); ok {
		l.Error(v...) //nolint:errcheck
	}
}

// Flush flushes the underlying logger.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		logger.Flush()
	}
}
