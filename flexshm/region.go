package flexshm

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fherb2/flexible-shared-memory/internal/xlog"
)

// Region header layout (spec.md §6, "Region byte layout (bit-exact)").
const (
	offMagic        = 0
	offVersion      = 4
	offReserved16   = 6
	offSlotCount    = 8
	offSlotSize     = 12
	offSchemaHash   = 16
	offWriteIdx     = 24
	offReadHint     = 32
	offProducerLive = 40
	// offReserved7 occupies 41..47

	RegionHeaderSize = 48

	// RegionMagic is "FSM1" read as a big-endian u32 ('F' is the high
	// byte); like the rest of the header it is stored in native byte order.
	RegionMagic uint32 = 0x46534D31

	// RegionVersion packs major (high byte) and minor (low byte).
	// Attach only requires the major byte to match (spec.md §4.6).
	RegionVersion uint16 = 0x0100

	pageSize = 4096
)

func regionVersionMajor(v uint16) uint16 { return v >> 8 }

// regionByteSize is the exact mapped size: header + K slots, rounded up
// to a page boundary (spec.md §4.6).
func regionByteSize(slotCount uint32, slotSize uint32) uint32 {
	raw := uint64(RegionHeaderSize) + uint64(slotCount)*uint64(slotSize)
	rounded := (raw + pageSize - 1) / pageSize * pageSize
	return uint32(rounded)
}

// RegionHeader is the decoded form of the fixed region header.
type RegionHeader struct {
	Magic         uint32
	Version       uint16
	SlotCount     uint32
	SlotSize      uint32
	SchemaHash    uint64
	WriteIdx      uint64
	ReadHint      uint64
	ProducerAlive bool
}

// RegionManager owns the provider for one attached region: it creates or
// opens the mapping, writes/validates the header, and exposes the atomic
// accessors the slot and ring protocols need (component C6).
type RegionManager struct {
	provider  MemoryProvider
	name      string
	layout    *Layout
	slotCount uint32
	logger    *xlog.Logger
}

// RegionManagerOptions configures attach behavior.
type RegionManagerOptions struct {
	Factory   ProviderFactory
	Name      string
	Layout    *Layout
	SlotCount uint32
	Create    bool
	Logger    *xlog.Logger
}

// attachBreaker wraps a factory attach call so repeated provider failures
// (e.g. a shared-memory file transiently held by another process during
// creation) trip a breaker instead of hot-looping syscalls. It never
// wraps the lock-free read/publish path, which must stay syscall-free.
var attachBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "flexshm.region.attach",
	MaxRequests: 1,
	Interval:    0,
	Timeout:     2 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	},
})

// NewRegionManager creates or opens a named region and validates (or
// writes) its header.
func NewRegionManager(opts RegionManagerOptions) (*RegionManager, error) {
	if opts.SlotCount == 0 {
		return nil, fmt.Errorf("%w: slot count must be >= 1", ErrSchema)
	}
	logger := opts.Logger
	if logger == nil {
		logger = xlog.Default("flexshm.region")
	}

	size := regionByteSize(opts.SlotCount, opts.Layout.SlotSize)

	providerIface, err := attachBreaker.Execute(func() (interface{}, error) {
		if opts.Create {
			return opts.Factory.Create(opts.Name, size)
		}
		return opts.Factory.Open(opts.Name)
	})
	if err != nil {
		switch err {
		case ErrNameInUse, ErrNotFound:
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
	}
	provider := providerIface.(MemoryProvider)

	rm := &RegionManager{
		provider:  provider,
		name:      opts.Name,
		layout:    opts.Layout,
		slotCount: opts.SlotCount,
		logger:    logger,
	}

	if opts.Create {
		if err := rm.writeHeader(); err != nil {
			_ = provider.Close()
			return nil, err
		}
		logger.Info("region created", xlog.String("name", opts.Name), xlog.Uint32("slots", opts.SlotCount))
	} else {
		if err := rm.validateHeader(); err != nil {
			_ = provider.Close()
			return nil, err
		}
		logger.Info("region attached", xlog.String("name", opts.Name))
	}

	return rm, nil
}

func (rm *RegionManager) writeHeader() error {
	var buf [RegionHeaderSize]byte
	byteOrder.PutUint32(buf[offMagic:], RegionMagic)
	byteOrder.PutUint16(buf[offVersion:], RegionVersion)
	byteOrder.PutUint32(buf[offSlotCount:], rm.slotCount)
	byteOrder.PutUint32(buf[offSlotSize:], rm.layout.SlotSize)
	byteOrder.PutUint64(buf[offSchemaHash:], rm.layout.SchemaHash)
	byteOrder.PutUint64(buf[offWriteIdx:], 0)
	byteOrder.PutUint64(buf[offReadHint:], 0)
	buf[offProducerLive] = 1
	return rm.provider.WriteAt(0, buf[:])
}

// readHeader decodes the current header without validating it.
func (rm *RegionManager) readHeader() (RegionHeader, error) {
	var buf [RegionHeaderSize]byte
	if err := rm.provider.ReadAt(0, buf[:]); err != nil {
		return RegionHeader{}, err
	}
	return RegionHeader{
		Magic:         byteOrder.Uint32(buf[offMagic:]),
		Version:       byteOrder.Uint16(buf[offVersion:]),
		SlotCount:     byteOrder.Uint32(buf[offSlotCount:]),
		SlotSize:      byteOrder.Uint32(buf[offSlotSize:]),
		SchemaHash:    byteOrder.Uint64(buf[offSchemaHash:]),
		WriteIdx:      byteOrder.Uint64(buf[offWriteIdx:]),
		ReadHint:      byteOrder.Uint64(buf[offReadHint:]),
		ProducerAlive: buf[offProducerLive] != 0,
	}, nil
}

// validateHeader checks magic/version/slot_size/slot_count/schema_hash,
// collecting every disagreeing field into one SchemaMismatchError
// (spec.md §4.6: "mismatch fails attach with a distinct error per field").
func (rm *RegionManager) validateHeader() error {
	h, err := rm.readHeader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}

	var mismatches []MismatchField
	if h.Magic != RegionMagic {
		mismatches = append(mismatches, MismatchField{"magic", fmt.Sprintf("%#x", RegionMagic), fmt.Sprintf("%#x", h.Magic)})
	}
	if regionVersionMajor(h.Version) != regionVersionMajor(RegionVersion) {
		mismatches = append(mismatches, MismatchField{"version", fmt.Sprintf("%#x", RegionVersion), fmt.Sprintf("%#x", h.Version)})
	}
	if h.SlotCount != rm.slotCount {
		mismatches = append(mismatches, MismatchField{"slot_count", fmt.Sprint(rm.slotCount), fmt.Sprint(h.SlotCount)})
	}
	if h.SlotSize != rm.layout.SlotSize {
		mismatches = append(mismatches, MismatchField{"slot_size", fmt.Sprint(rm.layout.SlotSize), fmt.Sprint(h.SlotSize)})
	}
	if h.SchemaHash != rm.layout.SchemaHash {
		mismatches = append(mismatches, MismatchField{"schema_hash", fmt.Sprintf("%#x", rm.layout.SchemaHash), fmt.Sprintf("%#x", h.SchemaHash)})
	}

	if len(mismatches) > 0 {
		rm.logger.Warn("schema mismatch on attach", xlog.String("name", rm.name), xlog.Int("fields", len(mismatches)))
		return &SchemaMismatchError{Fields: mismatches}
	}
	return nil
}

// slotOffset returns the absolute byte offset of slot index i.
func (rm *RegionManager) slotOffset(i uint32) uint32 {
	return RegionHeaderSize + i*rm.layout.SlotSize
}

func (rm *RegionManager) loadWriteIdx() (uint64, error) {
	return rm.provider.AtomicLoad64(offWriteIdx)
}

func (rm *RegionManager) storeWriteIdx(v uint64) error {
	return rm.provider.AtomicStore64(offWriteIdx, v)
}

func (rm *RegionManager) loadReadHint() (uint64, error) {
	return rm.provider.AtomicLoad64(offReadHint)
}

func (rm *RegionManager) storeReadHint(v uint64) error {
	return rm.provider.AtomicStore64(offReadHint, v)
}

// Close detaches the mapping. Idempotent.
func (rm *RegionManager) Close() error {
	if rm.provider == nil {
		return nil
	}
	err := rm.provider.Close()
	rm.provider = nil
	return err
}

// Unlink removes the region's OS-level name. Idempotent after the first
// success.
func (rm *RegionManager) Unlink(factory ProviderFactory) error {
	return factory.Unlink(rm.name)
}

// MemoryMap renders a human-readable description of the region, adapted
// from the teacher's SABValidator.GetMemoryMap.
func (rm *RegionManager) MemoryMap() string {
	s := fmt.Sprintf("flexshm region %q: %d slots x %d bytes (header %d bytes)\n",
		rm.name, rm.slotCount, rm.layout.SlotSize, RegionHeaderSize)
	for _, f := range rm.layout.Fields {
		s += fmt.Sprintf("  %-16s %-8s data@%-5d cap=%-5d status@%-5d\n",
			f.Name, f.Type.Kind, f.DataOffset, f.DataCapacity, f.StatusOffset)
	}
	return s
}
