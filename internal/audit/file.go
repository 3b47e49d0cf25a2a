package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// FileSink appends events to a JSONL file, one
// {"context": <address>, "logs": <event>} object per line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileSink opens path for appending, creating it when missing.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, events []domain.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ev := range events {
		if err := enc.Encode(domain.AuditLine{Context: ev.Address, Logs: ev}); err != nil {
			return fmt.Errorf("audit: encode %s: %w", ev.Signature, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("audit: write %s: %w", s.file.Name(), err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
