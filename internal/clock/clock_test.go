package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReal_AfterFuncFires(t *testing.T) {
	c := New()
	done := make(chan struct{})
	c.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestReal_StopPreventsFire(t *testing.T) {
	c := New()
	fired := make(chan struct{}, 1)
	tm := c.AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	require.True(t, tm.Stop())

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReal_NowIsUTC(t *testing.T) {
	require.Equal(t, time.UTC, New().Now().Location())
}
