package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"wastewatch/internal/core"
)

// Store is an in-process RecordStore.
type Store struct {
	mu    sync.Mutex
	items []core.Record
}

func New(seed []core.Record) *Store {
	return &Store{items: append([]core.Record(nil), seed...)}
}

// Replace swaps in a copy of records.
func (s *Store) Replace(_ context.Context, records []core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(make([]core.Record, 0, len(records)), records...)
	return nil
}

// Prepend stores r as the newest record.
func (s *Store) Prepend(_ context.Context, r core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, core.Record{})
	copy(s.items[1:], s.items)
	s.items[0] = r
	return nil
}

// List returns a copy of the dataset.
func (s *Store) List(_ context.Context) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Record(nil), s.items...), nil
}

// FileSeed reads raw records from a JSON-lines file. Blank lines and lines
// starting with # are skipped. A missing file yields no records.
type FileSeed struct {
	Path string
}

func (f FileSeed) ReadRecords(_ context.Context) ([]map[string]any, error) {
	lines, err := readLines(f.Path)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(lines))
	for i, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("seed line %d: %w", i+1, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// maxSeedLine bounds a single JSON line in a seed file.
const maxSeedLine = 16 << 20

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxSeedLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return out, nil
}
