package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func (imp *impl) newEntry(level Level, msg string) *logEntry {
	ret := &logEntry{}
	ret.Time = time.Now()
	if imp.inUTC {
		ret.Time = ret.Time.UTC()
	}
	ret.LoggerName = imp.name
	ret.Level = level.AsZap()
	ret.Message = msg
	ret.Caller = getCaller()
	return ret
}

type logEntry struct {
	zapcore.Entry
	fields []zapcore.Field
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

// Desugar builds a zap logger that tees into every appender that is also a zapcore.Core.
func (imp *impl) Desugar() *zap.Logger {
	var cores []zapcore.Core
	for _, appender := range imp.appenders {
		if core, ok := appender.(zapcore.Core); ok {
			cores = append(cores, core)
		}
	}
	config := NewLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(imp.level.Get().AsZap())
	ret := zap.Must(config.Build()).Named(imp.name)
	if len(cores) == 0 {
		return ret
	}
	return ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(append([]zapcore.Core{c}, cores...)...)
	}))
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

func (imp *impl) shouldLog(level Level) bool {
	return level >= imp.level.Get()
}

func (imp *impl) write(entry *logEntry) {
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

func (imp *impl) format(level Level, args ...interface{}) *logEntry {
	return imp.newEntry(level, fmt.Sprint(args...))
}

func (imp *impl) formatf(level Level, template string, args ...interface{}) *logEntry {
	return imp.newEntry(level, fmt.Sprintf(template, args...))
}

// formatw pairs up keysAndValues as zap fields. A dangling key gets an error value instead of
// being dropped.
func (imp *impl) formatw(level Level, msg string, keysAndValues ...interface{}) *logEntry {
	entry := imp.newEntry(level, msg)
	entry.fields = make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		keyStr := fmt.Sprintf("%v", keysAndValues[keyIdx])
		if keyIdx+1 < len(keysAndValues) {
			entry.fields = append(entry.fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
		} else {
			entry.fields = append(entry.fields, zap.Any(keyStr, errors.New("unpaired log key")))
		}
	}
	return entry
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.write(imp.format(DEBUG, args...))
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.write(imp.formatf(DEBUG, template, args...))
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.write(imp.formatw(DEBUG, msg, keysAndValues...))
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.write(imp.format(INFO, args...))
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.write(imp.formatf(INFO, template, args...))
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.write(imp.formatw(INFO, msg, keysAndValues...))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.write(imp.format(WARN, args...))
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.write(imp.formatf(WARN, template, args...))
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.write(imp.formatw(WARN, msg, keysAndValues...))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.write(imp.format(ERROR, args...))
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.write(imp.formatf(ERROR, template, args...))
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.write(imp.formatw(ERROR, msg, keysAndValues...))
	}
}

// Fatal logs at error level, flushes, and exits the process.
func (imp *impl) Fatal(args ...interface{}) {
	entry := imp.format(ERROR, args...)
	entry.Level = zapcore.FatalLevel
	imp.write(entry)
	//nolint:errcheck
	imp.Sync()
	os.Exit(1)
}

func getCaller() zapcore.EntryCaller {
	var ok bool
	var entryCaller zapcore.EntryCaller
	// getCaller <- newEntry <- format* <- Logger method <- user code
	const skipToLogCaller = 4
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if runtimeFunc := runtime.FuncForPC(entryCaller.PC); runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}
	return entryCaller
}
