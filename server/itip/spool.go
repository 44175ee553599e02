package itip

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Spooled is a message serialized to a temporary file and re-opened for
// reading. The file outlives any change to the blobs the message was built
// from, so it can be sent after the mailbox moved on.
type Spooled struct {
	path string
	size int64

	mu        sync.Mutex
	f         *os.File
	once      sync.Once
	removeErr error
}

// Spool writes msg into a new file in dir. An empty dir means the system
// temporary directory.
func Spool(dir string, msg *Message) (s *Spooled, rerr error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "calsched-"+uuid.NewString()+".eml")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		if rerr != nil {
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	n, err := msg.WriteTo(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write spool file: %w", err)
	}

	rf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen spool file: %w", err)
	}
	return &Spooled{path: path, size: n, f: rf}, nil
}

// Path returns the file name.
func (s *Spooled) Path() string {
	return s.path
}

// Size returns the message size in bytes.
func (s *Spooled) Size() int64 {
	return s.size
}

// Reader returns the message from its start.
func (s *Spooled) Reader() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, fmt.Errorf("spool file %s already removed", s.path)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.f, nil
}

// Remove closes and deletes the file. Only the first call has an effect.
func (s *Spooled) Remove() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.f != nil {
			s.f.Close()
			s.f = nil
		}
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.removeErr = err
		}
	})
	return s.removeErr
}
