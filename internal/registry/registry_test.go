package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stack/woodpeckers/internal/registry"
)

func TestInsertRejectsDuplicate(t *testing.T) {
	tbl := registry.New[int]()
	_, ok := tbl.Insert(1, 10)
	require.True(t, ok)

	existing, ok := tbl.Insert(1, 20)
	assert.False(t, ok)
	assert.Equal(t, 10, existing.Payload)
	assert.Equal(t, 1, tbl.Len())
}

func TestHasReflectsLiveMembership(t *testing.T) {
	tbl := registry.New[int]()
	assert.False(t, tbl.Has(1))
	tbl.Insert(1, 10)
	assert.True(t, tbl.Has(1))
}

func TestRemoveIsImmediatelyInvisibleButDeferred(t *testing.T) {
	tbl := registry.New[string]()
	tbl.Insert(1, "peer")

	rec, ok := tbl.Remove(1)
	require.True(t, ok)
	assert.False(t, tbl.Has(1))

	var released []*registry.Record[string]
	tbl.Drain(func(r *registry.Record[string]) {
		released = append(released, r)
	})
	require.Len(t, released, 1)
	assert.Same(t, rec, released[0])
}

func TestRemoveIsIdempotent(t *testing.T) {
	tbl := registry.New[int]()
	tbl.Insert(1, 10)
	_, ok := tbl.Remove(1)
	require.True(t, ok)

	_, ok = tbl.Remove(1)
	assert.False(t, ok)

	_, ok = tbl.Remove(99)
	assert.False(t, ok)
}

func TestDiscardSkipsDrain(t *testing.T) {
	tbl := registry.New[int]()
	tbl.Insert(1, 10)
	tbl.Discard(1)
	assert.False(t, tbl.Has(1))

	called := false
	tbl.Drain(func(*registry.Record[int]) { called = true })
	assert.False(t, called)
}

func TestDrainClearsQueueOnce(t *testing.T) {
	tbl := registry.New[int]()
	tbl.Insert(1, 10)
	tbl.Remove(1)

	calls := 0
	tbl.Drain(func(*registry.Record[int]) { calls++ })
	tbl.Drain(func(*registry.Record[int]) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestEachIteratesLiveRecordsOnly(t *testing.T) {
	tbl := registry.New[int]()
	tbl.Insert(1, 10)
	tbl.Insert(2, 20)
	tbl.Remove(1)

	var ids []uint16
	tbl.Each(func(r *registry.Record[int]) { ids = append(ids, r.ID) })
	assert.ElementsMatch(t, []uint16{2}, ids)
}

func TestRemoveDuringDispatchIsSafeFromWithinEach(t *testing.T) {
	tbl := registry.New[int]()
	tbl.Insert(1, 10)
	tbl.Insert(2, 20)

	tbl.Each(func(r *registry.Record[int]) {
		tbl.Remove(r.ID)
	})
	assert.Equal(t, 0, tbl.Len())
}
