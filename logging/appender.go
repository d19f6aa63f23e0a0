package logging

import (
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format used by the console appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. Any zapcore.Core is also an Appender.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

type consoleAppender struct {
	mu      sync.Mutex
	encoder zapcore.Encoder
	out     zapcore.WriteSyncer
}

// NewStdoutAppender returns an appender that writes human readable lines to stdout.
func NewStdoutAppender() Appender {
	cfg := NewLoggerConfig().EncoderConfig
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr)
	return &consoleAppender{
		encoder: zapcore.NewConsoleEncoder(cfg),
		out:     zapcore.Lock(os.Stdout),
	}
}

func (ca *consoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	buf, err := ca.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = ca.out.Write(buf.Bytes())
	return err
}

func (ca *consoleAppender) Sync() error {
	return ca.out.Sync()
}
