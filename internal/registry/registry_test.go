package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedAddIsIdempotent(t *testing.T) {
	s := NewShared()
	id1 := s.Add("A", Computation, false)
	id2 := s.Add("A", Computation, false)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Count())
}

func TestSharedFindUnknown(t *testing.T) {
	s := NewShared()
	assert.Equal(t, NoID, s.Find("nope"))
}

func TestSharedMarkNotExclusive(t *testing.T) {
	s := NewShared()
	id := s.Add("outer", Computation, false)
	e, ok := s.Entry(id)
	require.True(t, ok)
	assert.True(t, e.Exclusive)

	s.MarkNotExclusive(id)
	e, _ = s.Entry(id)
	assert.False(t, e.Exclusive)
}

func TestSharedConcurrentInsertsAreSafe(t *testing.T) {
	s := NewShared()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Add("shared-label", Computation, false)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, s.Count()) // no-op on repeat inserts, even racing
}

func TestReconcileCompletesLocalFromShared(t *testing.T) {
	shared := NewShared()
	idA := shared.Add("A", Computation, false)
	idQ := shared.Add("Q", Computation, true)

	local := NewLocal()
	local.Add("A", idA) // master already knows about A

	Reconcile(shared, local)

	assert.Equal(t, 2, local.Count())
	assert.Equal(t, idQ, local.Find("Q"))
}

func TestLocalAddNoOpOnRepeat(t *testing.T) {
	l := NewLocal()
	l.Add("x", ID(3))
	l.Add("x", ID(99)) // must not overwrite
	assert.Equal(t, ID(3), l.Find("x"))
}
