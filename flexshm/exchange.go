// Package flexshm implements a lock-free, schema-derived shared-memory
// exchange between one producer and any number of concurrent consumers:
// a single writer publishes records into a named region, and readers
// either always see the latest value (single-slot mode) or drain a
// bounded FIFO ring without ever blocking the writer.
package flexshm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fherb2/flexible-shared-memory/internal/xlog"
)

// ExchangeOptions configures a new Exchange.
type ExchangeOptions struct {
	// Name identifies the region at the OS level (e.g. a /dev/shm file
	// name). If empty, a random name is generated.
	Name string

	// Fields declares the record schema. Required.
	Fields []FieldDecl

	// Create, when true, creates a new region and fails with
	// ErrNameInUse if Name is already taken. When false, attaches to an
	// existing region and fails with ErrNotFound if it is missing, or a
	// *SchemaMismatchError if the region's header disagrees with Fields.
	Create bool

	// SlotCount selects single-slot latest-wins (1, the default) or a
	// bounded-ring FIFO of SlotCount slots.
	SlotCount uint32

	// Factory supplies the region's backing memory. Defaults to a
	// SharedMemoryFactory rooted at DefaultSharedMemoryDir.
	Factory ProviderFactory

	// Logger overrides the default per-exchange logger.
	Logger *xlog.Logger

	// ShutdownTimeout bounds Close's graceful-shutdown hooks. Defaults
	// to 5 seconds.
	ShutdownTimeout time.Duration
}

// ExchangeStats summarizes a region's current state for diagnostics,
// adapted from the teacher's SABInitializer.GetStats.
type ExchangeStats struct {
	Name          string
	SlotCount     uint32
	SlotSize      uint32
	WriteCount    uint64
	ReadHint      uint64
	ProducerAlive bool
}

// Exchange is the public entry point: one process attaches or creates an
// Exchange for a schema, then calls Write/Finalize (producer side) or
// Read (consumer side) against it.
type Exchange struct {
	mu sync.Mutex

	id      uuid.UUID
	name    string
	schema  *Schema
	layout  *Layout
	region  *RegionManager
	ring    *RingController
	reader  *RingReader
	factory ProviderFactory
	logger  *xlog.Logger

	shutdown *xlog.GracefulShutdown
	closed   bool
}

// New creates or attaches an Exchange per opts.
func New(opts ExchangeOptions) (*Exchange, error) {
	if opts.SlotCount == 0 {
		opts.SlotCount = 1
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	schema, err := NewSchema(opts.Fields)
	if err != nil {
		return nil, err
	}
	layout, err := CompileLayout(schema)
	if err != nil {
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = &SharedMemoryFactory{}
	}
	name := opts.Name
	if name == "" {
		name = "flexshm-" + uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = xlog.Default("flexshm.exchange").With(name)
	}

	region, err := NewRegionManager(RegionManagerOptions{
		Factory:   factory,
		Name:      name,
		Layout:    layout,
		SlotCount: opts.SlotCount,
		Create:    opts.Create,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	ex := &Exchange{
		id:      uuid.New(),
		name:    name,
		schema:  schema,
		layout:  layout,
		region:  region,
		ring:    NewRingController(region, logger),
		factory: factory,
		logger:  logger,
	}

	ex.shutdown = xlog.NewGracefulShutdown(opts.ShutdownTimeout, logger)
	ex.shutdown.Register(func() error {
		return region.Close()
	})

	return ex, nil
}

// Write stages field values for the next Finalize. See RingController.Write.
func (e *Exchange) Write(fields map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.ring.Write(fields)
}

// Finalize publishes the currently staged values as a new slot.
func (e *Exchange) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.ring.Finalize()
}

// Read waits up to timeout for data and returns a decoded snapshot. See
// RingReader.Read for the latest/FIFO/resetModified semantics. Each
// Exchange keeps exactly one FIFO cursor; a process that wants multiple
// independent cursors over the same region should open multiple
// Exchanges against it.
func (e *Exchange) Read(timeout time.Duration, latest bool, resetModified bool) (*Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.reader == nil {
		e.reader = e.ring.NewReader()
	}
	reader := e.reader
	e.mu.Unlock()

	return reader.Read(timeout, latest, resetModified)
}

// Stats reports the region's current counters for diagnostics.
func (e *Exchange) Stats() (ExchangeStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ExchangeStats{}, ErrClosed
	}
	w, err := e.region.loadWriteIdx()
	if err != nil {
		return ExchangeStats{}, err
	}
	rh, err := e.region.loadReadHint()
	if err != nil {
		return ExchangeStats{}, err
	}
	h, err := e.region.readHeader()
	if err != nil {
		return ExchangeStats{}, err
	}
	return ExchangeStats{
		Name:          e.name,
		SlotCount:     e.region.slotCount,
		SlotSize:      e.layout.SlotSize,
		WriteCount:    w,
		ReadHint:      rh,
		ProducerAlive: h.ProducerAlive,
	}, nil
}

// MemoryMap renders a human-readable layout description.
func (e *Exchange) MemoryMap() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.region.MemoryMap()
}

// Close runs the exchange's shutdown hooks (closing the region mapping)
// and marks it unusable. Idempotent.
func (e *Exchange) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.shutdown.Shutdown(ctx)
}

// Unlink removes the region's OS-level name. Call after Close, only from
// whichever side is responsible for the region's lifetime (normally the
// creator).
func (e *Exchange) Unlink() error {
	return e.factory.Unlink(e.name)
}
