// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much is logged.
type Options struct {
	Level   string
	File    string
	Env     string
	NoColor bool
}

// New returns a logger writing to stderr and, outside tests, to a rotating file.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColor,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	logger.SetOutput(io.MultiWriter(writers(opts)...))
	logger.SetReportCaller(true)
	return logger
}

func writers(opts Options) []io.Writer {
	out := []io.Writer{os.Stderr}
	if opts.Env == "test" || opts.File == "" {
		return out
	}
	return append(out, &lumberjack.Logger{
		Filename:   opts.File,
		LocalTime:  true,
		Compress:   true,
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
	})
}
