//go:build unix

// Package shm maps shared memory object files into the process.
package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when a closed region is accessed.
var ErrClosed = errors.New("shared memory region is closed")

// Region is a memory-mapped view of a shared object file.
type Region struct {
	name     string
	data     []byte
	writable bool
	closed   bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Path     string
	Size     int
	Writable bool
}

// Create makes a new object file of exactly size bytes. It fails if the
// file already exists.
func Create(path string, size int64, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to size %s to %d bytes: %w", path, size, err)
	}
	return f.Close()
}

// Map maps the object file named by opts.Path with MAP_SHARED, so writes
// through a writable region are visible to every other mapping.
func Map(opts MapOptions) (*Region, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if opts.Writable {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}

	f, err := os.OpenFile(opts.Path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Path, err)
	}
	defer f.Close()

	size := opts.Size
	if size < 0 {
		st, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", opts.Path, err)
		}
		size = int(st.Size())
	}

	r := &Region{name: opts.Path, writable: opts.Writable}
	if size == 0 {
		return r, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", opts.Path, err)
	}
	r.data = data
	return r, nil
}

// Name returns the path of the mapped file.
func (r *Region) Name() string { return r.name }

// Size returns the mapped length in bytes.
func (r *Region) Size() int { return len(r.data) }

// Writable reports whether the region was mapped for writing.
func (r *Region) Writable() bool { return r.writable }

// Bytes returns the mapped memory. It must not be used after Close.
func (r *Region) Bytes() ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.data, nil
}

// Sync flushes writes of a writable region to the backing file.
func (r *Region) Sync() error {
	if r.closed {
		return ErrClosed
	}
	if !r.writable || len(r.data) == 0 {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Close unmaps the region. Closing twice is a no-op.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("failed to unmap %s: %w", r.name, err)
	}
	return nil
}
