package cowrie

import (
	"bufio"
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/rs/zerolog"
)

const componentName = "cowrie_reader"

// SkipFunc receives every line the reader drops.
type SkipFunc func(*errors.MonitorError)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger skipped lines are reported to.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) { r.logger = logger.With().Str("component", componentName).Logger() }
}

// WithSkipHandler registers a callback for skipped lines, in addition to logging.
func WithSkipHandler(fn SkipFunc) Option {
	return func(r *Reader) { r.onSkip = fn }
}

// WithUntimed keeps JSON objects whose timestamp is missing or unrecognized,
// yielding them with a zero Timestamp instead of skipping them. Use it with a
// zero cutoff; a non-zero cutoff excludes every untimed entry.
func WithUntimed() Option {
	return func(r *Reader) { r.untimed = true }
}

// Reader streams entries from a JSON-lines log, one per call to Next. Entries
// older than the cutoff are dropped silently; malformed lines are dropped and
// reported. A Reader is single-pass.
//
//	r, err := cowrie.Open(path, time.Now().Add(-time.Hour))
//	for r.Next() {
//		e := r.Entry()
//	}
//	err = r.Err()
type Reader struct {
	path    string
	cutoff  time.Time
	f       *os.File
	br      *bufio.Reader
	line    int
	entry   Entry
	err     error
	eof     bool
	skipped int
	untimed bool
	onSkip  SkipFunc
	logger  zerolog.Logger
}

// Open opens the log at path. A zero cutoff admits every entry. A missing or
// unreadable file yields a resource_missing error and no Reader.
func Open(path string, cutoff time.Time, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewResourceMissingError(componentName, path, err)
	}

	r := &Reader{
		path:   path,
		cutoff: cutoff,
		f:      f,
		br:     bufio.NewReaderSize(f, 64*1024),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Next advances to the next in-window entry. It returns false at end of file
// or on a read error, which Err then reports.
func (r *Reader) Next() bool {
	for !r.eof && r.err == nil {
		raw, err := r.br.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				r.err = fmt.Errorf("read %s: %w", r.path, err)
				return false
			}
			r.eof = true
		}
		if len(raw) == 0 {
			continue
		}
		r.line++

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		fields, err := decodeObject(line)
		if err != nil {
			r.skip("invalid JSON", err)
			continue
		}

		entry, err := NewEntry(fields)
		if err != nil {
			if !r.untimed {
				r.skip("invalid timestamp", err)
				continue
			}
			entry = entryFromFields(fields)
		}

		if entry.Timestamp.Before(r.cutoff) {
			continue
		}

		r.entry = entry
		return true
	}
	return false
}

// Entry returns the entry produced by the last successful Next.
func (r *Reader) Entry() Entry {
	return r.entry
}

// Err returns the first non-EOF read error.
func (r *Reader) Err() error {
	return r.err
}

// Skipped returns how many lines were dropped as malformed so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

func (r *Reader) skip(reason string, cause error) {
	r.skipped++
	skipErr := errors.NewParseSkipError(componentName, r.line, reason, cause)
	r.logger.Warn().
		Str("file", r.path).
		Int("line", r.line).
		Str("reason", reason).
		AnErr("cause", cause).
		Msg("Skipping log line.")
	if r.onSkip != nil {
		r.onSkip(skipErr)
	}
}

// decodeObject decodes exactly one JSON object from line. Numbers are kept as
// json.Number so they can be written back out verbatim.
func decodeObject(line []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, stderrors.New("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, stderrors.New("trailing data after JSON object")
	}
	return fields, nil
}

// ReadAll collects every in-window entry of the log at path.
func ReadAll(path string, cutoff time.Time, opts ...Option) ([]Entry, int, error) {
	r, err := Open(path, cutoff, opts...)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var entries []Entry
	for r.Next() {
		entries = append(entries, r.Entry())
	}
	return entries, r.Skipped(), r.Err()
}
