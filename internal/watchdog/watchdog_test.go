package watchdog

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	mu        sync.Mutex
	destroyed int
	err       error
}

func (f *fakeProc) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return f.err
}

func (f *fakeProc) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func TestNewRejectsTinyTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second, time.Microsecond} {
		_, err := New(d)
		assert.ErrorIs(t, err, ErrInvalidArgument, "timeout %s", d)
	}
	w, err := New(MinTimeout)
	require.NoError(t, err)
	assert.Equal(t, MinTimeout, w.Timeout())
	assert.Equal(t, StateIdle, w.State())
}

func TestStartRequiresProcess(t *testing.T) {
	w, _ := New(time.Second)
	assert.ErrorIs(t, w.Start(nil), ErrInvalidState)
	assert.Equal(t, StateIdle, w.State())
}

func TestStartTwiceFails(t *testing.T) {
	w, _ := New(time.Hour)
	p := &fakeProc{}
	require.NoError(t, w.Start(p))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(p), ErrInvalidState)
	assert.True(t, w.Watching())
}

func TestExpiryDestroysAndNotifiesOnce(t *testing.T) {
	w, _ := New(30 * time.Millisecond)
	var fired atomic.Int32
	w.OnTimeout(func() { fired.Add(1) })
	p := &fakeProc{}
	start := time.Now()
	require.NoError(t, w.Start(p))
	w.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 1, p.Destroyed())
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, StateExpired, w.State())
	assert.True(t, w.KilledProcess())
	assert.NoError(t, w.CheckFailure())

	// stop after expiry is a no-op
	w.Stop()
	w.Stop()
	assert.Equal(t, StateExpired, w.State())
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 1, p.Destroyed())
}

func TestStopBeforeDeadline(t *testing.T) {
	w, _ := New(200 * time.Millisecond)
	var fired atomic.Int32
	w.OnTimeout(func() { fired.Add(1) })
	p := &fakeProc{}
	require.NoError(t, w.Start(p))
	w.Stop()
	w.Stop()

	done := make(chan struct{})
	go func() { w.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Stop did not wake the timer")
	}
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 0, p.Destroyed())
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, w.KilledProcess())
}

func TestRestartAfterStopAndExpiry(t *testing.T) {
	w, _ := New(20 * time.Millisecond)
	var fired atomic.Int32
	w.OnTimeout(func() { fired.Add(1) })

	p1 := &fakeProc{}
	require.NoError(t, w.Start(p1))
	w.Stop()
	w.Wait()

	p2 := &fakeProc{}
	require.NoError(t, w.Start(p2))
	w.Wait()
	assert.Equal(t, StateExpired, w.State())
	assert.Equal(t, 0, p1.Destroyed())
	assert.Equal(t, 1, p2.Destroyed())

	p3 := &fakeProc{}
	require.NoError(t, w.Start(p3))
	assert.False(t, w.KilledProcess(), "a new cycle clears the killed flag")
	w.Wait()
	assert.Equal(t, 1, p3.Destroyed())
	assert.Equal(t, int32(2), fired.Load())
}

func TestDestroyFailureIsCaptured(t *testing.T) {
	w, _ := New(10 * time.Millisecond)
	boom := errors.New("no such process")
	require.NoError(t, w.Start(&fakeProc{err: boom}))
	w.Wait()
	err := w.CheckFailure()
	var inf *InternalFailure
	require.ErrorAs(t, err, &inf)
	assert.ErrorIs(t, err, boom)
}

func TestObserverPanicIsCaptured(t *testing.T) {
	w, _ := New(10 * time.Millisecond)
	w.OnTimeout(func() { panic("observer bug") })
	p := &fakeProc{}
	require.NoError(t, w.Start(p))
	w.Wait()
	assert.Equal(t, 1, p.Destroyed())
	assert.Error(t, w.CheckFailure())
	assert.Equal(t, StateExpired, w.State())
}

func TestConcurrentStopAndExpiryNotifyAtMostOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		w, _ := New(time.Millisecond)
		var fired atomic.Int32
		w.OnTimeout(func() { fired.Add(1) })
		p := &fakeProc{}
		require.NoError(t, w.Start(p))
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		w.Stop()
		w.Wait()
		assert.LessOrEqual(t, fired.Load(), int32(1))
		assert.Equal(t, int(fired.Load()), p.Destroyed())
		assert.Equal(t, fired.Load() == 1, w.KilledProcess())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
