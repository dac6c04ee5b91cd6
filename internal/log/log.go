// Package log is the process logger. Every function takes a format string.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	b.WriteString(entry.Time.Format("2006/01/02 15:04:05"))
	fmt.Fprintf(b, " |%.4s| ", strings.ToUpper(entry.Level.String()))
	b.WriteString(entry.Message)
	for k, v := range entry.Data {
		fmt.Fprintf(b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&lineFormatter{})
}

// SetLevel accepts debug, info, warning (or warn), error and silent.
func SetLevel(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		logger.SetOutput(io.Discard)
		return nil
	case "":
		logger.SetLevel(logrus.InfoLevel)
		return nil
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	logger.SetLevel(lv)
	return nil
}

// SetFormat switches between the line format ("text") and JSON.
func SetFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		logger.SetFormatter(&lineFormatter{})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func SetOutput(w io.Writer) { logger.SetOutput(w) }

func Debugln(format string, v ...any) { logger.Debugf(format, v...) }

func Infoln(format string, v ...any) { logger.Infof(format, v...) }

func Warnln(format string, v ...any) { logger.Warnf(format, v...) }

func Errorln(format string, v ...any) { logger.Errorf(format, v...) }

func Fatalln(format string, v ...any) { logger.Fatalf(format, v...) }

// WithFields is for structured lines such as access logs.
func WithFields(fields map[string]any) *logrus.Entry {
	return logger.WithFields(logrus.Fields(fields))
}
