package flexshm

import "errors"

// MemoryProvider abstracts access to one named shared-memory region.
// It is the only surface the core touches to reach bytes outside the Go
// heap — the host OS mapping mechanism itself (mmap, a Windows file
// mapping, a JS SharedArrayBuffer) is external per spec.md §1/§6.
// Implementations may be backed by mmap, a test double, or any other
// byte-addressable region with atomic read-modify-write support.
type MemoryProvider interface {
	// Size returns the region's total byte length.
	Size() uint32

	// ReadAt copies len(dest) bytes starting at offset into dest.
	ReadAt(offset uint32, dest []byte) error

	// WriteAt copies src into the region starting at offset.
	WriteAt(offset uint32, src []byte) error

	// AtomicLoad64/AtomicStore64/AtomicCAS64 provide the acquire/release
	// ordered access the slot protocol (spec.md §4.4) needs for seq and
	// write_id and for the region's write_idx/read_hint;
	// AtomicLoad32/AtomicStore32/AtomicAdd32 give word-sized access to
	// status bytes (the reset_modified clear).
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)

	AtomicLoad64(offset uint32) (uint64, error)
	AtomicStore64(offset uint32, val uint64) error
	AtomicCAS64(offset uint32, old, new uint64) (bool, error)

	// Close detaches the mapping. Idempotent.
	Close() error
}

// ProviderFactory creates or opens a named region. Implementations choose
// how "name" resolves to an OS resource (a /dev/shm path, a Windows file
// mapping name, ...); the core never interprets the name itself.
type ProviderFactory interface {
	Create(name string, size uint32) (MemoryProvider, error)
	Open(name string) (MemoryProvider, error)
	Unlink(name string) error
}

var (
	// ErrOutOfBounds is returned by ReadAt/WriteAt/Atomic* when the
	// requested offset/size falls outside the region.
	ErrOutOfBounds = errors.New("flexshm: offset out of bounds")

	// ErrMisaligned is returned by the Atomic* family when offset does
	// not satisfy the operation's natural alignment.
	ErrMisaligned = errors.New("flexshm: offset is not aligned")
)
