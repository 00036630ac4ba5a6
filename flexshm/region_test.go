package flexshm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionByteSize_RoundsUpToPage(t *testing.T) {
	size := regionByteSize(1, 64)
	assert.EqualValues(t, pageSize, size)
}

func TestNewRegionManager_CreateThenAttachSucceeds(t *testing.T) {
	factory := NewInMemoryFactory()
	s := mustSchema(t, []FieldDecl{{Name: "a", Token: "i32"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	rm1, err := NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r1", Layout: l, SlotCount: 2, Create: true})
	require.NoError(t, err)
	defer rm1.Close()

	rm2, err := NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r1", Layout: l, SlotCount: 2, Create: false})
	require.NoError(t, err)
	defer rm2.Close()
}

func TestNewRegionManager_SlotCountMismatchFails(t *testing.T) {
	factory := NewInMemoryFactory()
	s := mustSchema(t, []FieldDecl{{Name: "a", Token: "i32"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	rm1, err := NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r2", Layout: l, SlotCount: 2, Create: true})
	require.NoError(t, err)
	defer rm1.Close()

	_, err = NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r2", Layout: l, SlotCount: 4, Create: false})
	require.Error(t, err)
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	found := false
	for _, f := range mismatch.Fields {
		if f.Field == "slot_count" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNewRegionManager_ZeroSlotCountRejected(t *testing.T) {
	factory := NewInMemoryFactory()
	s := mustSchema(t, []FieldDecl{{Name: "a", Token: "i32"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	_, err = NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r3", Layout: l, SlotCount: 0, Create: true})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestRegionManager_MemoryMapListsFields(t *testing.T) {
	factory := NewInMemoryFactory()
	s := mustSchema(t, []FieldDecl{{Name: "temp", Token: "f64"}, {Name: "label", Token: "str[4]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	rm, err := NewRegionManager(RegionManagerOptions{Factory: factory, Name: "r4", Layout: l, SlotCount: 1, Create: true})
	require.NoError(t, err)
	defer rm.Close()

	m := rm.MemoryMap()
	assert.Contains(t, m, "temp")
	assert.Contains(t, m, "label")
}
