// Package logging adapts logrus and zerolog to the retry.Logger interface.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/finboard/proxy-common/retry"
)

var (
	_ retry.Logger = (*LogrusLogger)(nil)
	_ retry.Logger = (*ZerologLogger)(nil)
)

// LogrusLogger writes key/value log lines through a logrus entry
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus wraps l; a nil logger uses the logrus standard logger
func NewLogrus(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// With returns a logger that adds the given fields to every line
func (l *LogrusLogger) With(keysAndValues ...interface{}) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithFields(logrusFields(keysAndValues))}
}

func (l *LogrusLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(logrusFields(keysAndValues)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(logrusFields(keysAndValues)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(logrusFields(keysAndValues)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(logrusFields(keysAndValues)).Error(msg)
}

func logrusFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2+1)
	forEachPair(keysAndValues, func(key string, value interface{}) {
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		fields[key] = value
	})
	return fields
}

// ZerologLogger writes key/value log lines through zerolog
type ZerologLogger struct {
	zlog zerolog.Logger
}

// NewZerolog wraps l
func NewZerolog(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zlog: l}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Debug(), msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Info(), msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Warn(), msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Error(), msg, keysAndValues)
}

func (l *ZerologLogger) write(event *zerolog.Event, msg string, keysAndValues []interface{}) {
	if event == nil {
		return
	}
	forEachPair(keysAndValues, func(key string, value interface{}) {
		switch v := value.(type) {
		case error:
			event = event.AnErr(key, v)
		default:
			event = event.Interface(key, v)
		}
	})
	event.Msg(msg)
}

// forEachPair walks alternating keys and values. A trailing key without a
// value is reported under "extra".
func forEachPair(keysAndValues []interface{}, fn func(key string, value interface{})) {
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			fn("extra", keysAndValues[i])
			return
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fn(key, keysAndValues[i+1])
	}
}

// NewLogrusLogger builds a process logger from a level name and a format
// (json or text).
func NewLogrusLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetLevel(lvl)
	if out != nil {
		l.SetOutput(out)
	}

	switch strings.ToLower(format) {
	case "", "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return l, nil
}
