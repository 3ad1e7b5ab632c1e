package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// lineSplitter cuts a byte stream into physical lines, carrying a partial
// line across chunk boundaries. Both "\n" and "\r\n" terminate a line.
type lineSplitter struct {
	carry   []byte
	line    int
	started bool
}

type emitFunc func(line int, text string) error

func (s *lineSplitter) feed(chunk []byte, emit emitFunc) error {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			s.carry = append(s.carry, chunk...)
			return nil
		}
		var text []byte
		if len(s.carry) > 0 {
			s.carry = append(s.carry, chunk[:i]...)
			text = s.carry
		} else {
			text = chunk[:i]
		}
		chunk = chunk[i+1:]
		if err := s.emitLine(text, emit); err != nil {
			return err
		}
		s.carry = s.carry[:0]
	}
	return nil
}

func (s *lineSplitter) flush(emit emitFunc) error {
	if len(s.carry) == 0 {
		return nil
	}
	text := s.carry
	s.carry = nil
	return s.emitLine(text, emit)
}

func (s *lineSplitter) emitLine(raw []byte, emit emitFunc) error {
	s.line++
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	text := string(raw)
	if !s.started {
		text = strings.TrimPrefix(text, utf8BOM)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.started = true
	return emit(s.line, text)
}

// readLines reads src in chunks of chunkSize bytes and emits each non-blank line.
func readLines(src io.Reader, chunkSize int, emit emitFunc) error {
	buf := make([]byte, chunkSize)
	var splitter lineSplitter
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if ferr := splitter.feed(buf[:n], emit); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return splitter.flush(emit)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReadInput, err)
		}
	}
}

// parseRecord parses one line of delimited text.
func parseRecord(text string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	record, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMalformedRow
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRow, err)
	}
	return record, nil
}
