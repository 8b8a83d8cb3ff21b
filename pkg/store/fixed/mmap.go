// Package fixed implements the flat, memory-mapped fixed-record vector
// store (spec §4.3): three files per prefix — "<prefix>_metadata",
// "<prefix>_index" and "<prefix>_vector" — grown in fixed-size
// reservations as otama_fixed_strage.hpp does.
//
// No library in the example corpus wraps mmap, so this package calls
// golang.org/x/sys/unix directly; x/sys is already a dependency of the
// corpus (direct in one pack repo, indirect via this module's own sqlite
// driver) and is the same low-level primitive other embedded stores build
// file mapping on top of.
package fixed

import (
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile is an open file with its full contents mapped MAP_SHARED.
type mappedFile struct {
	f    *os.File
	data []byte
}

func createSizedFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func openMapped(path string, size int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err != nil {
		f.Close()
		return nil, err
	} else if fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	if size == 0 {
		return &mappedFile{f: f}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mappedFile{f: f, data: data}, nil
}

// remap truncates the underlying file to size and re-establishes the
// mapping, used by extend() after the file grows.
func (m *mappedFile) remap(size int64) error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return err
		}
		m.data = nil
	}
	if err := m.f.Truncate(size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *mappedFile) sync() error {
	if m == nil || m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mappedFile) close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
