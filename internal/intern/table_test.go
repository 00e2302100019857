package intern

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_InternLowerCasesAndShares(t *testing.T) {
	tbl := NewTable()

	a := tbl.Intern("Content-Length")
	b := tbl.Intern("content-length")

	assert.Equal(t, "content-length", a)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_LookupAfterFreeze(t *testing.T) {
	tbl := NewTable()
	tbl.Intern("Host")
	tbl.Freeze()

	v, ok := tbl.Lookup("HOST")
	require.True(t, ok)
	assert.Equal(t, "host", v)

	_, ok = tbl.Lookup("x-missing")
	assert.False(t, ok)

	// Existing names can still be interned without a lock
	assert.Equal(t, "host", tbl.Intern("Host"))
}

func TestTable_InternNewNameAfterFreezePanics(t *testing.T) {
	tbl := NewTable()
	tbl.Freeze()
	require.True(t, tbl.Frozen())

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value should be an error, got %T", r)
		assert.True(t, errors.Is(err, ErrFrozen))
	}()
	tbl.Intern("x-new")
}

func TestTable_FreezeTwicePanics(t *testing.T) {
	tbl := NewTable()
	tbl.Freeze()
	assert.Panics(t, tbl.Freeze)
}

func TestTable_ConcurrentIntern(t *testing.T) {
	tbl := NewTable()
	names := []string{"Host", "Accept", "uuid", "Content-Type", "X-Request-Id"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				tbl.Intern(n)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(names), tbl.Len())
}
