package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileBackend appends entries as JSON lines. Every append is fsynced.
type FileBackend struct {
	mu   sync.Mutex
	path string
	f    *os.File
	sync func(*os.File) error
}

// OpenFileBackend opens or creates the log at path.
func OpenFileBackend(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileBackend{path: path, f: f, sync: (*os.File).Sync}, nil
}

// Load reads every line of the log in file order.
func (b *FileBackend) Load(context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Append writes e as one line and syncs the file. A failed write or sync
// truncates the file back to its previous size, so a rejected entry never
// reappears on reload.
func (b *FileBackend) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return errors.New("audit log closed")
	}
	off, err := b.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("audit log offset: %w", err)
	}
	n, err := b.f.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = b.sync(b.f)
	}
	if err != nil {
		if terr := b.f.Truncate(off); terr != nil {
			return errors.Join(err, fmt.Errorf("audit log rollback: %w", terr))
		}
		return err
	}
	return nil
}

// Close closes the log file.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
