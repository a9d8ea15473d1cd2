package openalex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// FileSource liest Works aus einer JSON-Lines-Datei (ein Work pro Zeile),
// z.B. aus einem OpenAlex-Snapshot.
type FileSource struct {
	name   string
	closer io.Closer
	r      *bufio.Reader
	line   int
}

// OpenFile öffnet eine JSON-Lines-Datei als Work-Quelle.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src := NewReaderSource(path, f)
	src.closer = f
	return src, nil
}

// NewReaderSource liest Works zeilenweise aus r.
func NewReaderSource(name string, r io.Reader) *FileSource {
	return &FileSource{name: name, r: bufio.NewReaderSize(r, 1<<20)}
}

// Name gibt den Namen der Quelle zurück.
func (s *FileSource) Name() string { return s.name }

// Next liefert das nächste Work oder io.EOF. Leere Zeilen werden übersprungen.
func (s *FileSource) Next(ctx context.Context) (*Work, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		s.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		var w Work
		if decErr := json.Unmarshal(line, &w); decErr != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.name, s.line, decErr)
		}
		return &w, nil
	}
}

// Close schließt die zugrunde liegende Datei.
func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
