package flexshm

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// InMemoryProvider stores a region in a local byte slice. It is the test
// double used throughout this package's tests and is also useful for
// single-process producer/consumer pairs that don't need cross-process
// sharing, mirroring the teacher's InMemoryProvider test double.
type InMemoryProvider struct {
	data []byte
}

// NewInMemoryProvider creates an in-memory region of the requested size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{data: make([]byte, size)}
}

func (m *InMemoryProvider) Size() uint32 { return uint32(len(m.data)) }

func (m *InMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(dest, m.data[offset:offset+uint32(len(dest))])
	return nil
}

func (m *InMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (m *InMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	p, err := m.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(p)), nil
}

func (m *InMemoryProvider) AtomicStore32(offset uint32, val uint32) error {
	p, err := m.ptr32At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(p), val)
	return nil
}

func (m *InMemoryProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	p, err := m.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(p), delta), nil
}

func (m *InMemoryProvider) AtomicLoad64(offset uint32) (uint64, error) {
	p, err := m.ptr64At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(p)), nil
}

func (m *InMemoryProvider) AtomicStore64(offset uint32, val uint64) error {
	p, err := m.ptr64At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(p), val)
	return nil
}

func (m *InMemoryProvider) AtomicCAS64(offset uint32, old, new uint64) (bool, error) {
	p, err := m.ptr64At(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64((*uint64)(p), old, new), nil
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}

func (m *InMemoryProvider) ptr32At(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+4 > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

func (m *InMemoryProvider) ptr64At(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+8 > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%8 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

// InMemoryFactory vends InMemoryProvider regions keyed by name — useful
// for single-process tests that exercise the Create/Open/Unlink paths
// without touching the filesystem.
type InMemoryFactory struct {
	mu      sync.Mutex
	regions map[string]*InMemoryProvider
}

// NewInMemoryFactory creates an empty in-process region registry.
func NewInMemoryFactory() *InMemoryFactory {
	return &InMemoryFactory{regions: make(map[string]*InMemoryProvider)}
}

func (f *InMemoryFactory) Create(name string, size uint32) (MemoryProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.regions[name]; exists {
		return nil, ErrNameInUse
	}
	p := NewInMemoryProvider(size)
	f.regions[name] = p
	return p, nil
}

func (f *InMemoryFactory) Open(name string) (MemoryProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.regions[name]
	if !ok {
		return nil, ErrNotFound
	}
	// A fresh handle over the same bytes, so closing it detaches only
	// this handle.
	return &InMemoryProvider{data: p.data}, nil
}

func (f *InMemoryFactory) Unlink(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.regions, name)
	return nil
}
