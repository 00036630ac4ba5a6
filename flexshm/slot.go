package flexshm

import (
	"math/rand"
	"runtime"
	"time"
)

// defaultSnapshotRetries bounds the torn-read retry loop in readSlotSnapshot.
// spec.md §4.4 asks for a bounded retry rather than an unbounded spin so a
// dead producer (seq stuck odd) surfaces as ErrTornRead instead of hanging
// a reader forever.
const defaultSnapshotRetries = 256

// Slot header layout: an 8-byte sequence counter followed by an 8-byte
// write id, matching SlotHeaderSize in layout.go.
const (
	slotOffSeq     = 0
	slotOffWriteID = 8
)

// publishSlot writes one fully-encoded slot body (status bytes plus field
// data, produced by the caller) using the even/odd sequence protocol:
//
//  1. seq flips to odd — the slot is mid-publication and must not be
//     trusted by a concurrent reader.
//  2. write_id and the body bytes are copied in.
//  3. seq advances to the next even value, publishing the slot.
//
// Atomic stores on the mmap'd region carry a real hardware memory
// barrier, so step 3 cannot become visible to another process before
// step 2's plain copy does.
func publishSlot(p MemoryProvider, slotOffset uint32, body []byte, writeID uint64) error {
	seqOff := slotOffset + slotOffSeq
	seq0, err := p.AtomicLoad64(seqOff)
	if err != nil {
		return err
	}
	inProgress := seq0 + 1
	if err := p.AtomicStore64(seqOff, inProgress); err != nil {
		return err
	}
	if err := p.AtomicStore64(slotOffset+slotOffWriteID, writeID); err != nil {
		return err
	}
	if err := p.WriteAt(slotOffset+SlotHeaderSize, body); err != nil {
		return err
	}
	return p.AtomicStore64(seqOff, inProgress+1)
}

// slotSeq returns the current sequence value without attempting a
// torn-read-safe body copy: zero for a never-published slot, odd while a
// publication is in progress, even otherwise.
func slotSeq(p MemoryProvider, slotOffset uint32) (uint64, error) {
	return p.AtomicLoad64(slotOffset + slotOffSeq)
}

// readSlotSnapshot performs a torn-read-safe copy of one slot's body (the
// bytes following the slot header: status bytes and field data) along
// with the write_id that produced it. It samples seq before and after the
// copy and retries, with a short spin-then-sleep backoff, until both
// samples agree on an even value or maxRetries is exhausted.
func readSlotSnapshot(p MemoryProvider, slotOffset uint32, bodySize uint32, maxRetries int) ([]byte, uint64, error) {
	if maxRetries <= 0 {
		maxRetries = defaultSnapshotRetries
	}
	seqOff := slotOffset + slotOffSeq
	body := make([]byte, bodySize)

	for attempt := 0; attempt < maxRetries; attempt++ {
		seq0, err := p.AtomicLoad64(seqOff)
		if err != nil {
			return nil, 0, err
		}
		if seq0%2 != 0 {
			snapshotBackoff(attempt)
			continue
		}
		if err := p.ReadAt(slotOffset+SlotHeaderSize, body); err != nil {
			return nil, 0, err
		}
		writeID, err := p.AtomicLoad64(slotOffset + slotOffWriteID)
		if err != nil {
			return nil, 0, err
		}
		seq1, err := p.AtomicLoad64(seqOff)
		if err != nil {
			return nil, 0, err
		}
		if seq1 == seq0 {
			return body, writeID, nil
		}
		snapshotBackoff(attempt)
	}
	return nil, 0, ErrTornRead
}

// snapshotBackoff yields for the first few retries, then sleeps briefly
// with jitter so a slow writer has room to finish publishing.
func snapshotBackoff(attempt int) {
	if attempt < 4 {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Duration(1+rand.Intn(attempt)) * time.Microsecond)
}
