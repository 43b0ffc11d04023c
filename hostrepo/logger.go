// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package hostrepo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Logger forwards GORM's logging to logrus; SQL statements are traced at
// trace level only.
type Logger struct {
	level logger.LogLevel
	slow  time.Duration
}

var _ logger.Interface = (*Logger)(nil)

// NewLogger returns a GORM logger logging warnings and errors.
func NewLogger() *Logger {
	return &Logger{level: logger.Warn, slow: 200 * time.Millisecond}
}

// LogMode returns a logger with the specified level.
func (l *Logger) LogMode(level logger.LogLevel) logger.Interface {
	newl := *l
	newl.level = level
	return &newl
}

func (l *Logger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		log.Infof("gorm: "+msg, args...)
	}
}

func (l *Logger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		log.Warnf("gorm: "+msg, args...)
	}
}

func (l *Logger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		log.Errorf("gorm: "+msg, args...)
	}
}

// Trace logs SQL statements; failures other than missing records are logged
// as errors, slow statements as warnings.
func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.WithFields(log.Fields{"rows": rows, "elapsed": elapsed}).Errorf("gorm: %s: %s", sql, err.Error())
	case elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		log.WithFields(log.Fields{"rows": rows, "elapsed": elapsed}).Warnf("gorm: slow SQL: %s", sql)
	case log.IsLevelEnabled(log.TraceLevel):
		sql, rows := fc()
		log.WithFields(log.Fields{"rows": rows, "elapsed": elapsed}).Tracef("gorm: %s", sql)
	}
}
