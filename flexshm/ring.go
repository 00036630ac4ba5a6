package flexshm

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/fherb2/flexible-shared-memory/internal/xlog"
)

// FieldValue pairs a decoded field value with the status bits it was
// read with, letting a caller distinguish a genuinely-unwritten field
// from a zero value.
type FieldValue struct {
	Value  interface{}
	Status FieldStatus
}

// Snapshot is one torn-read-safe view of a slot: every declared field,
// decoded, plus the write id that produced it (spec.md §4.5).
type Snapshot struct {
	Fields  map[string]FieldValue
	WriteID uint64
}

// RingController drives the producer side of the exchange: it stages
// field writes into a local buffer and publishes them into the next
// slot of a K-slot ring (K == 1 is the single-slot latest-wins case;
// K > 1 is bounded-ring FIFO). Both modes share the same claim/publish
// mechanics — only Read()'s traversal differs.
type RingController struct {
	region   *RegionManager
	bodySize uint32

	// current is the last published slot image (header bytes unused, field
	// offsets as in the Layout), kept locally so the next
	// Write only has to touch the fields the caller actually changes.
	// Fields never written read back as StatusUnwritten forever.
	current []byte
	staged  []byte
	touched *bitset.BitSet

	logger *xlog.Logger
}

// NewRingController initializes a producer over an attached region. The
// local baseline starts as all fields StatusUnwritten, matching a freshly
// created region's zeroed slots.
func NewRingController(region *RegionManager, logger *xlog.Logger) *RingController {
	if logger == nil {
		logger = xlog.Default("flexshm.ring")
	}
	bodySize := region.layout.SlotSize - SlotHeaderSize
	current := make([]byte, region.layout.SlotSize)
	for _, f := range region.layout.Fields {
		setStatus(current, &f, StatusUnwritten)
	}
	return &RingController{
		region:   region,
		bodySize: bodySize,
		current:  current,
		staged:   append([]byte(nil), current...),
		touched:  bitset.New(uint(len(region.layout.Fields))),
		logger:   logger,
	}
}

// Write stages field values into the pending slot without publishing it.
// Unknown field names are rejected; kind/shape mismatches are rejected;
// oversize or reshaped values are truncated per field type, never error
// (spec.md §4.3). Multiple Write calls before Finalize coalesce: later
// values for the same field win, and fields left untouched carry forward
// their last published value.
// Single-slot regions (slotCount == 1) have no separate staging step:
// each Write call publishes immediately, and a subsequent explicit
// Finalize is rejected with ErrMode (spec.md §9 Open Question decision:
// finalize() in single-slot mode errors rather than being a no-op).
func (r *RingController) Write(fields map[string]interface{}) error {
	for name, value := range fields {
		idx, f := fieldIndexByName(r.region.layout, name)
		if f == nil {
			return ErrUnknownField
		}
		if err := encodeField(r.staged, f, value); err != nil {
			return err
		}
		r.touched.Set(uint(idx))
	}
	if r.region.slotCount == 1 {
		return r.finalizeLocked()
	}
	return nil
}

// Finalize publishes the staged slot into the ring and advances the
// write cursor. After Finalize, the staged buffer becomes the new
// baseline for the next Write, with MODIFIED cleared on every field
// (spec.md §4.5: "modified" describes change since the last publish,
// not since the region was created). Only valid in ring mode
// (slotCount > 1); single-slot Write already publishes on its own.
func (r *RingController) Finalize() error {
	if r.region.slotCount == 1 {
		return ErrMode
	}
	return r.finalizeLocked()
}

func (r *RingController) finalizeLocked() error {
	w, err := r.region.loadWriteIdx()
	if err != nil {
		return err
	}
	idx := uint32(w % uint64(r.region.slotCount))
	writeID := w + 1

	if err := publishSlot(r.region.provider, r.region.slotOffset(idx), r.staged[SlotHeaderSize:], writeID); err != nil {
		return err
	}
	if err := r.region.storeWriteIdx(writeID); err != nil {
		return err
	}

	r.current = append(r.current[:0], r.staged...)
	for _, f := range r.region.layout.Fields {
		st := getStatus(r.current, &f) &^ StatusModified
		setStatus(r.current, &f, st)
	}
	r.staged = append(r.staged[:0], r.current...)
	r.touched.ClearAll()

	r.logger.Debug("slot published", xlog.Uint64("write_id", writeID), xlog.Uint32("slot", idx))
	return nil
}

// decodeSnapshot turns a raw body (as returned by readSlotSnapshot) into
// a caller-facing Snapshot.
func (r *RingController) decodeSnapshot(body []byte, writeID uint64) *Snapshot {
	slot := make([]byte, SlotHeaderSize+len(body))
	copy(slot[SlotHeaderSize:], body)
	fields := make(map[string]FieldValue, len(r.region.layout.Fields))
	for _, f := range r.region.layout.Fields {
		v, status := decodeField(slot, &f)
		fields[f.Name] = FieldValue{Value: v, Status: status}
	}
	return &Snapshot{Fields: fields, WriteID: writeID}
}

// clearModified zeroes the MODIFIED bit on every field's status byte
// directly in the region, for reset_modified. Restricted to single-slot
// regions: with more than one consumer sharing a ring slot's status
// bytes there is no way to know whether "modified since I last looked"
// means the same thing to every reader.
func (r *RingController) clearModified(slotOffset uint32) error {
	if r.region.slotCount != 1 {
		return ErrMode
	}
	for _, f := range r.region.layout.Fields {
		off := slotOffset + f.StatusOffset
		cur, err := r.region.provider.AtomicLoad32(alignDown4(off))
		if err != nil {
			return err
		}
		shift := (off - alignDown4(off)) * 8
		b := byte(cur >> shift)
		cleared := b &^ byte(StatusModified)
		if cleared == b {
			continue
		}
		newWord := (cur &^ (0xff << shift)) | uint32(cleared)<<shift
		if err := r.region.provider.AtomicStore32(alignDown4(off), newWord); err != nil {
			return err
		}
	}
	return nil
}

func alignDown4(v uint32) uint32 { return v &^ 3 }

// fieldIndexByName is FieldByName plus the field's declaration index,
// needed to address it in the touched-field bitset.
func fieldIndexByName(l *Layout, name string) (int, *FieldLayout) {
	for i := range l.Fields {
		if l.Fields[i].Name == name {
			return i, &l.Fields[i]
		}
	}
	return -1, nil
}

// RingReader tracks one consumer's independent position in the ring.
// Multiple readers (including readers in other processes) each keep
// their own cursor; the shared region only exposes the producer's
// write cursor.
type RingReader struct {
	ring   *RingController
	cursor uint64 // write id last consumed (the next wanted is cursor+1), 0 means "none yet"
}

// NewReader creates a consumer cursor starting at the oldest slot
// currently available.
func (r *RingController) NewReader() *RingReader {
	return &RingReader{ring: r}
}

const (
	readPollSpin     = 64
	readPollMinSleep = 20 * time.Microsecond
	readPollMaxSleep = 2 * time.Millisecond
)

// Read waits up to timeout for data and returns a decoded snapshot.
//
// latest=true always returns the most recently published slot: it sets
// R = W-1 for the snapshot, then advances this reader's cursor to W, so
// a later read (latest or FIFO) never sees the same publication again
// (spec.md §4.5). latest=false advances this reader's own FIFO cursor
// one slot at a time; if the producer has lapped it (more than
// slotCount writes occurred since its last read) it drops the missed
// slots and resumes at the oldest one still available.
//
// resetModified clears the MODIFIED status bit on every field of the
// slot just read; it is only valid when the region has exactly one
// slot (ErrMode otherwise).
func (reader *RingReader) Read(timeout time.Duration, latest bool, resetModified bool) (*Snapshot, error) {
	if resetModified && reader.ring.region.slotCount != 1 {
		return nil, ErrMode
	}

	deadline := time.Now().Add(timeout)
	var targetIdx uint32
	var expectWriteID uint64

	for {
		w, err := reader.ring.region.loadWriteIdx()
		if err != nil {
			return nil, err
		}

		if latest {
			// "as above" (spec.md §4.5): wait until W > R using this
			// reader's own cursor, not just W > 0, so a read that already
			// consumed the latest publication blocks/times out instead of
			// replaying it.
			if w <= reader.cursor {
				if waitOrTimeout(deadline) {
					continue
				}
				return nil, ErrTimeout
			}
			targetIdx = uint32((w - 1) % uint64(reader.ring.region.slotCount))
			expectWriteID = w
			break
		}

		K := uint64(reader.ring.region.slotCount)
		if reader.cursor == 0 {
			if w > K {
				reader.cursor = w - K // lapped before the first read
			}
		} else if w-reader.cursor > K {
			reader.cursor = w - K
		}

		if reader.cursor >= w {
			if waitOrTimeout(deadline) {
				continue
			}
			return nil, ErrTimeout
		}
		targetIdx = uint32(reader.cursor % K)
		expectWriteID = reader.cursor + 1
		break
	}

	slotOff := reader.ring.region.slotOffset(targetIdx)
	body, writeID, err := readSlotSnapshot(reader.ring.region.provider, slotOff, reader.ring.bodySize, defaultSnapshotRetries)
	if err != nil {
		return nil, err
	}
	if !latest && writeID < expectWriteID {
		// the producer has not reached this slot yet; treat as not-ready.
		return nil, ErrTimeout
	}
	// Consume this write id regardless of traversal mode: a latest=true
	// read sets R = W-1 for the snapshot, then advances the cursor to W
	// (spec.md §4.5), so a later read never replays the same publication.
	reader.cursor = writeID

	if resetModified {
		if err := reader.ring.clearModified(slotOff); err != nil {
			return nil, err
		}
	}
	_ = reader.ring.region.storeReadHint(writeID)

	return reader.ring.decodeSnapshot(body, writeID), nil
}

// waitOrTimeout blocks briefly for new data and reports whether the
// caller should retry (false means the deadline has passed).
func waitOrTimeout(deadline time.Time) bool {
	if time.Now().After(deadline) {
		return false
	}
	remaining := time.Until(deadline)
	sleep := readPollMinSleep
	if remaining < sleep {
		sleep = remaining
	}
	if sleep > readPollMaxSleep {
		sleep = readPollMaxSleep
	}
	if sleep <= 0 {
		return false
	}
	time.Sleep(sleep)
	return true
}
