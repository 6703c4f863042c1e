package ingest

import (
	"bufio"
	"io"
)

// lineScanner reads line-delimited records while tracking byte
// offsets, so checkpoint commits always land on a line boundary and
// never point past the true end of the file.
//
// A trailing record without a newline is treated as still being
// written and is not returned unless allowFinal is set (historical
// backfill reads completed files, where the final line is real).
type lineScanner struct {
	r          *bufio.Reader
	offset     int64 // after the last returned line
	lineStart  int64 // before the last returned line
	allowFinal bool
}

func newLineScanner(r io.Reader, offset int64, allowFinal bool) *lineScanner {
	return &lineScanner{
		r:          bufio.NewReaderSize(r, 64*1024),
		offset:     offset,
		lineStart:  offset,
		allowFinal: allowFinal,
	}
}

// Next returns the next complete line without its terminator. ok is
// false at end of input. A read failure mid-stream returns the error;
// Offset still reflects only fully returned lines.
func (s *lineScanner) Next() (line string, ok bool, err error) {
	raw, err := s.r.ReadString('\n')
	if err == io.EOF {
		if raw == "" {
			return "", false, nil
		}
		if !s.allowFinal {
			// Unterminated tail: leave it for the next cycle.
			return "", false, nil
		}
		s.lineStart = s.offset
		s.offset += int64(len(raw))
		return trimEOL(raw), true, nil
	}
	if err != nil {
		return "", false, err
	}

	s.lineStart = s.offset
	s.offset += int64(len(raw))
	return trimEOL(raw), true, nil
}

// Offset is the byte position after the last returned line.
func (s *lineScanner) Offset() int64 {
	return s.offset
}

// LineStart is the byte position before the last returned line. A
// caller that fails to emit the current line commits LineStart so the
// line is re-delivered next cycle.
func (s *lineScanner) LineStart() int64 {
	return s.lineStart
}

func trimEOL(raw string) string {
	for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
		raw = raw[:len(raw)-1]
	}
	return raw
}
