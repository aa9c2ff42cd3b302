// Package files is the file layer of the transfer engine: block-oriented
// sequential access with restart positioning over an afero filesystem, rule
// directories with chroot resolution, and the pass-through hooks used by
// through modes.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrClosed is returned on use after Close.
	ErrClosed = errors.New("file closed")
)

// File is one transfer file, read block by block on the sending side and
// written block by block on the receiving side.
type File interface {
	// Path returns the slash-separated path inside the filesystem.
	Path() string

	// ReadBlock reads the next block into buf. It returns io.EOF once the
	// file is exhausted.
	ReadBlock(buf []byte) (int, error)

	// WriteBlock appends p at the current position.
	WriteBlock(p []byte) error

	// RestartMarker moves the sequential position to offset.
	RestartMarker(offset int64) error

	// Position returns the current sequential position.
	Position() int64

	// Length returns the current file size.
	Length() (int64, error)

	Exists() bool

	// RenameTo moves the file, creating parent directories as needed.
	RenameTo(newPath string) error

	// Delete closes and removes the file.
	Delete() error

	Close() error
}

// BlockFile implements File over an afero.Fs. The underlying handle is
// opened lazily on first read or write.
type BlockFile struct {
	fs      afero.Fs
	mu      sync.Mutex
	path    string
	writing bool
	handle  afero.File
	offset  int64
	closed  bool
}

var _ File = (*BlockFile)(nil)

// Open returns a file to read from. The file must exist.
func Open(fs afero.Fs, name string) (*BlockFile, error) {
	if _, err := fs.Stat(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return &BlockFile{fs: fs, path: name}, nil
}

// Create returns a file to write to. Parent directories are created; an
// existing file is kept so that a restart can resume into it.
func Create(fs afero.Fs, name string) (*BlockFile, error) {
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", name, err)
	}
	return &BlockFile{fs: fs, path: name, writing: true}, nil
}

func (f *BlockFile) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *BlockFile) open() error {
	if f.closed {
		return ErrClosed
	}
	if f.handle != nil {
		return nil
	}
	var (
		h   afero.File
		err error
	)
	if f.writing {
		h, err = f.fs.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0o644)
	} else {
		h, err = f.fs.Open(f.path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, f.path)
		}
		return err
	}
	if f.offset > 0 {
		if _, err := h.Seek(f.offset, io.SeekStart); err != nil {
			_ = h.Close()
			return fmt.Errorf("seek %s to %d: %w", f.path, f.offset, err)
		}
	}
	f.handle = h
	return nil
}

func (f *BlockFile) ReadBlock(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writing {
		return 0, fmt.Errorf("%s opened for writing", f.path)
	}
	if err := f.open(); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(f.handle, buf)
	f.offset += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

func (f *BlockFile) WriteBlock(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.writing {
		return fmt.Errorf("%s opened for reading", f.path)
	}
	if err := f.open(); err != nil {
		return err
	}
	n, err := f.handle.Write(p)
	f.offset += int64(n)
	return err
}

func (f *BlockFile) RestartMarker(offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if offset < 0 {
		offset = 0
	}
	f.offset = offset
	if f.handle != nil {
		if _, err := f.handle.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s to %d: %w", f.path, offset, err)
		}
	}
	return nil
}

func (f *BlockFile) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *BlockFile) Length() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle != nil && f.writing {
		if err := f.handle.Sync(); err != nil {
			return 0, err
		}
	}
	fi, err := f.fs.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

func (f *BlockFile) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok, err := afero.Exists(f.fs, f.path)
	return err == nil && ok
}

func (f *BlockFile) RenameTo(newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if newPath == f.path {
		return nil
	}
	if err := f.closeHandle(); err != nil {
		return err
	}
	// Nothing written yet: the file only exists once the first block lands.
	if ok, err := afero.Exists(f.fs, f.path); err == nil && !ok && f.writing {
		f.path = newPath
		return nil
	}
	if err := f.fs.MkdirAll(path.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", newPath, err)
	}
	if err := f.fs.Rename(f.path, newPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", f.path, newPath, err)
	}
	f.path = newPath
	return nil
}

func (f *BlockFile) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.closeHandle()
	f.closed = true
	if err := f.fs.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *BlockFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeHandle()
}

func (f *BlockFile) closeHandle() error {
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}
