package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("L1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
	require.Equal(t, 0, l.Len())
}

func TestLocker_DistinctKeysIndependent(t *testing.T) {
	l := New()
	u1 := l.Lock("a")
	u2 := l.Lock("b")
	require.Equal(t, 2, l.Len())
	u1()
	u2()
	require.Equal(t, 0, l.Len())
}
