package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/coldvault/securestore/log"
)

// auditFactory backs --audit-log with a size-rotated JSON-lines sink, so
// repeated fault-handler trips during a long fuzzing session don't grow
// one file unbounded. The library package itself never knows this
// factory exists; it is only ever installed here, in the CLI, via
// log.SetFactory.
type auditFactory struct {
	out io.Writer
}

// newAuditFactory opens (or creates) path as a lumberjack-rotated sink.
func newAuditFactory(path string) *auditFactory {
	return &auditFactory{out: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}}
}

func (f *auditFactory) New() log.Logger {
	return &auditLogger{out: f.out}
}

var (
	_ log.Factory = (*auditFactory)(nil)
	_ log.Logger  = (*auditLogger)(nil)
)

type auditLogger struct {
	out    io.Writer
	level  log.Level
	fields map[string]any
	err    error
}

func (l *auditLogger) clone() *auditLogger {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &auditLogger{out: l.out, level: l.level, fields: fields, err: l.err}
}

func (l *auditLogger) Level(lvl log.Level) log.Logger {
	c := l.clone()
	c.level = lvl
	return c
}

func (l *auditLogger) Field(k string, v any) log.Logger {
	c := l.clone()
	c.fields[k] = v
	return c
}

func (l *auditLogger) Fields(data map[string]any) log.Logger {
	c := l.clone()
	for k, v := range data {
		c.fields[k] = v
	}
	return c
}

func (l *auditLogger) Error(err error) log.Logger {
	c := l.clone()
	c.err = err
	return c
}

func (l *auditLogger) Message(msg string) {
	line := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339Nano),
		"level": l.level,
		"msg":   msg,
	}
	for k, v := range l.fields {
		line[k] = v
	}
	if l.err != nil {
		line["error"] = l.err.Error()
	}
	enc, err := json.Marshal(line)
	if err != nil {
		fmt.Fprintf(l.out, "{\"error\":\"audit: unable to marshal log line: %s\"}\n", err)
		return
	}
	l.out.Write(append(enc, '\n'))
}

func (l *auditLogger) Messagef(format string, v ...any) {
	l.Message(fmt.Sprintf(format, v...))
}
