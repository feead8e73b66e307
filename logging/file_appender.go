package logging

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileAppender creates a console appender that writes to path. The file is rotated once it grows
// past maxSizeMB megabytes and at most maxBackups rotated files are kept. The returned closer closes
// the current file.
func NewFileAppender(path string, maxSizeMB, maxBackups int) (ConsoleAppender, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return NewWriterAppender(file), file
}
