package engine

import (
	"bytes"
	"log/slog"
)

const maxStderrLine = 4096

// stderrSink logs each diagnostic line the engine writes and keeps a bounded
// tail of the stream for the outcome. exec.Cmd copies stderr from a single
// goroutine, so no locking is needed.
type stderrSink struct {
	logger  *slog.Logger
	action  Action
	limit   int
	partial []byte
	tail    []byte
}

func newStderrSink(logger *slog.Logger, action Action, limit int) *stderrSink {
	return &stderrSink{logger: logger, action: action, limit: limit}
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.keep(p)

	data := append(s.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		s.emit(data[:i])
		data = data[i+1:]
	}
	if len(data) > maxStderrLine {
		s.emit(data)
		data = nil
	}
	s.partial = append(s.partial[:0], data...)
	return len(p), nil
}

// flush logs whatever trailing text arrived without a newline.
func (s *stderrSink) flush() {
	if len(s.partial) > 0 {
		s.emit(s.partial)
		s.partial = nil
	}
}

func (s *stderrSink) String() string {
	return string(s.tail)
}

func (s *stderrSink) keep(p []byte) {
	if s.limit <= 0 {
		return
	}
	s.tail = append(s.tail, p...)
	if over := len(s.tail) - s.limit; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}
}

func (s *stderrSink) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	s.logger.Warn("engine stderr", "action", string(s.action), "line", string(line))
}
