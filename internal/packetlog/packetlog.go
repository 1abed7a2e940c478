// Package packetlog writes an optional NDJSON trace of received frames and
// session transitions.
package packetlog

import (
	"bufio"
	"os"
	"sync"

	"github.com/bytedance/sonic"
)

const (
	TypeStartup    = "startup"
	TypeFrame      = "frame"
	TypeTransition = "transition"
	TypePublish    = "publish"
	TypeClear      = "clear"
)

type Record struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
	Phase     string `json:"phase,omitempty"`
	Remote    string `json:"remote,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Magic     string `json:"magic,omitempty"`
	ProgramID string `json:"program_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Length    int    `json:"len,omitempty"`
	// Header holds the leading frame bytes of non-title frames.
	Header    string `json:"header,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Logger appends records to a file. A nil *Logger discards everything.
type Logger struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func New(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		f: f,
		w: bufio.NewWriterSize(f, 64*1024),
	}, nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		_ = l.w.Flush()
		l.w = nil
	}
	if l.f != nil {
		err := l.f.Close()
		l.f = nil
		return err
	}
	return nil
}

func (l *Logger) Log(rec Record) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	line, err := sonic.Marshal(rec)
	if err != nil {
		return
	}
	_, _ = l.w.Write(append(line, '\n'))
	_ = l.w.Flush()
}
