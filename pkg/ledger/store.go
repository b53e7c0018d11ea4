package ledger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxLineBytes bounds a single stored record, at append time and when
// scanning the file back.
const maxLineBytes = 16 << 20

// Store is the append-only persistence interface for ledger entries.
// Stores never expose update or delete operations.
type Store interface {
	// Append durably persists one complete entry. The write must be
	// flushed and synced to stable storage before Append returns.
	Append(ctx context.Context, e *Entry) error

	// Entries returns a forward iterator over all entries, oldest first.
	// Each call re-reads the backing storage from the beginning.
	Entries(ctx context.Context) (Iterator, error)

	// LastEntry returns the most recent entry, or nil if the ledger is
	// empty. Writers use it to determine the next chain link.
	LastEntry(ctx context.Context) (*Entry, error)

	// Exists reports whether the backing ledger has been created yet.
	// A missing ledger is valid and represents zero entries.
	Exists(ctx context.Context) (bool, error)
}

// Iterator walks stored entries in file order. The usage mirrors database
// rows: Next, Entry, then Err after Next returns false.
type Iterator interface {
	Next() bool
	Entry() *Entry
	Err() error
	Close() error
}

// FileStore is the durable, single-writer file implementation of Store.
// Each entry is one newline-terminated line of compact JSON, written with a
// single write call and fsynced before Append returns, so a crash after a
// successful Append never loses the entry and no reader can observe a
// partial line.
type FileStore struct {
	path     string
	readOnly bool
	mu       sync.Mutex
}

// NewFileStore opens a file-backed store at path. With readOnly set, the
// store never creates or modifies the backing file and Append fails with
// ErrReadOnly.
func NewFileStore(path string, readOnly bool) (*FileStore, error) {
	if !readOnly {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create ledger directory: %v", ErrStorageIO, err)
			}
		}
	}
	return &FileStore{path: path, readOnly: readOnly}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, e *Entry) error {
	if s.readOnly {
		return fmt.Errorf("%w: append to %s", ErrReadOnly, s.path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := e.MarshalLine()
	if err != nil {
		return fmt.Errorf("%w: serialize entry: %v", ErrStorageIO, err)
	}
	if len(line) >= maxLineBytes {
		return fmt.Errorf("%w: entry %s serializes to %d bytes, limit %d", ErrStorageIO, e.EntryID, len(line), maxLineBytes)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open ledger file: %v", ErrStorageIO, err)
	}

	// One write call for the full record plus newline keeps the line
	// atomic with respect to concurrent readers.
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: write entry: %v", ErrStorageIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync ledger file: %v", ErrStorageIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close ledger file: %v", ErrStorageIO, err)
	}
	return nil
}

// Entries implements Store. A missing file yields an empty iteration.
func (s *FileStore) Entries(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileIterator{}, nil
		}
		return nil, fmt.Errorf("%w: open ledger file: %v", ErrStorageIO, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	return &fileIterator{f: f, sc: sc, path: s.path}, nil
}

// LastEntry implements Store.
func (s *FileStore) LastEntry(ctx context.Context) (*Entry, error) {
	it, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var last *Entry
	for it.Next() {
		last = it.Entry()
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

// Exists implements Store.
func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat ledger file: %v", ErrStorageIO, err)
	}
	return true, nil
}

// fileIterator scans a ledger file line by line. Blank lines are skipped;
// an unparsable line stops iteration with an ErrMalformedRecord that names
// the line number.
type fileIterator struct {
	f    *os.File
	sc   *bufio.Scanner
	path string
	line int
	cur  *Entry
	err  error
}

func (it *fileIterator) Next() bool {
	if it.sc == nil || it.err != nil {
		return false
	}
	for it.sc.Scan() {
		it.line++
		raw := bytes.TrimSpace(it.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		e, err := UnmarshalLine(raw)
		if err != nil {
			it.err = fmt.Errorf("%w: line %d in %s: %v", ErrMalformedRecord, it.line, it.path, err)
			return false
		}
		it.cur = e
		return true
	}
	if err := it.sc.Err(); err != nil {
		it.err = fmt.Errorf("%w: read ledger file: %v", ErrStorageIO, err)
	}
	return false
}

func (it *fileIterator) Entry() *Entry { return it.cur }

func (it *fileIterator) Err() error { return it.err }

func (it *fileIterator) Close() error {
	if it.f == nil {
		return nil
	}
	return it.f.Close()
}
