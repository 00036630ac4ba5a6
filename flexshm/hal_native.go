//go:build !windows

package flexshm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SharedMemoryProvider maps a named file under a shared-memory-backed
// directory (typically /dev/shm), giving two processes on the same host a
// common byte region. This is the native, cross-process MemoryProvider;
// InMemoryProvider remains the in-process test double.
type SharedMemoryProvider struct {
	path string
	file *os.File
	data []byte
	size uint32
}

// SharedMemoryFactory resolves region names to paths under Dir (default
// DefaultSharedMemoryDir) and mmaps them.
type SharedMemoryFactory struct {
	Dir string
}

// DefaultSharedMemoryDir returns /dev/shm when present, else the OS temp
// directory — the same fallback the teacher's SAB provider uses.
func DefaultSharedMemoryDir() string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm"
	}
	return os.TempDir()
}

func (f *SharedMemoryFactory) dir() string {
	if f.Dir != "" {
		return f.Dir
	}
	return DefaultSharedMemoryDir()
}

func (f *SharedMemoryFactory) pathFor(name string) string {
	return filepath.Join(f.dir(), name)
}

func (f *SharedMemoryFactory) Create(name string, size uint32) (MemoryProvider, error) {
	path := f.pathFor(name)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrNameInUse
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrNameInUse
		}
		return nil, fmt.Errorf("%w: create %s: %v", ErrProvider, path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrProvider, path, err)
	}
	return mapFile(path, file, size)
}

func (f *SharedMemoryFactory) Open(name string) (MemoryProvider, error) {
	path := f.pathFor(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrProvider, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrProvider, path, err)
	}
	return mapFile(path, file, uint32(info.Size()))
}

func (f *SharedMemoryFactory) Unlink(name string) error {
	err := os.Remove(f.pathFor(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: unlink %s: %v", ErrProvider, name, err)
	}
	return nil
}

func mapFile(path string, file *os.File, size uint32) (*SharedMemoryProvider, error) {
	if size == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("%w: zero-size region %s", ErrProvider, path)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrProvider, path, err)
	}
	return &SharedMemoryProvider{path: path, file: file, data: data, size: size}, nil
}

func (s *SharedMemoryProvider) Size() uint32 { return s.size }

func (s *SharedMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(s.size) {
		return ErrOutOfBounds
	}
	copy(dest, s.data[offset:offset+uint32(len(dest))])
	return nil
}

func (s *SharedMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(s.size) {
		return ErrOutOfBounds
	}
	copy(s.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (s *SharedMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	p, err := s.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(p)), nil
}

func (s *SharedMemoryProvider) AtomicStore32(offset uint32, val uint32) error {
	p, err := s.ptr32At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(p), val)
	return nil
}

func (s *SharedMemoryProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	p, err := s.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(p), delta), nil
}

func (s *SharedMemoryProvider) AtomicLoad64(offset uint32) (uint64, error) {
	p, err := s.ptr64At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(p)), nil
}

func (s *SharedMemoryProvider) AtomicStore64(offset uint32, val uint64) error {
	p, err := s.ptr64At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(p), val)
	return nil
}

func (s *SharedMemoryProvider) AtomicCAS64(offset uint32, old, new uint64) (bool, error) {
	p, err := s.ptr64At(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64((*uint64)(p), old, new), nil
}

func (s *SharedMemoryProvider) Close() error {
	var err error
	if s.data != nil {
		if unmapErr := unix.Munmap(s.data); unmapErr != nil {
			err = unmapErr
		}
		s.data = nil
	}
	if s.file != nil {
		if closeErr := s.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.file = nil
	}
	return err
}

func (s *SharedMemoryProvider) ptr32At(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+4 > uint64(s.size) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&s.data[offset]), nil
}

func (s *SharedMemoryProvider) ptr64At(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+8 > uint64(s.size) {
		return nil, ErrOutOfBounds
	}
	if offset%8 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&s.data[offset]), nil
}
