package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
)

type fakeJobs struct {
	jobs  []metadata.Job
	err   error
	panic bool
	seen  time.Time
}

func (f *fakeJobs) DueJobs(now time.Time) ([]metadata.Job, error) {
	if f.panic {
		panic("store exploded")
	}
	f.seen = now
	return f.jobs, f.err
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingDispatcher) Dispatch(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func newTestScheduler(jobs JobSource, d Dispatcher) *Scheduler {
	s := NewScheduler(config.Default(), jobs, d)
	s.now = func() time.Time { return at(2024, 3, 10, 1, 0) }
	return s
}

func TestTick_DispatchesDueJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: []metadata.Job{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}}
	d := &recordingDispatcher{}

	newTestScheduler(jobs, d).Tick()

	assert.Equal(t, []string{"a", "b"}, d.ids)
	assert.Equal(t, at(2024, 3, 10, 1, 0), jobs.seen)
}

func TestTick_StoreErrorDispatchesNothing(t *testing.T) {
	d := &recordingDispatcher{}
	newTestScheduler(&fakeJobs{err: errors.New("connection refused")}, d).Tick()
	assert.Empty(t, d.ids)
}

func TestTick_RecoversFromPanic(t *testing.T) {
	s := newTestScheduler(&fakeJobs{panic: true}, &recordingDispatcher{})
	assert.NotPanics(t, s.Tick)
}

func TestStart_RejectsInvalidTick(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.TickSchedule = "every so often"
	s := NewScheduler(cfg, &fakeJobs{}, &recordingDispatcher{})
	assert.Error(t, s.Start())
}

func TestPool_BoundsParallelism(t *testing.T) {
	p := NewPool(2)

	var running, peak int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		require.True(t, p.Submit("work", func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
		}))
	}
	close(release)
	p.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(0), atomic.LoadInt32(&running))
}

func TestPool_PanicDoesNotKillPool(t *testing.T) {
	p := NewPool(1)
	var ran int32

	p.Submit("bad", func() { panic("boom") })
	p.Submit("good", func() { atomic.StoreInt32(&ran, 1) })
	p.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	p := NewPool(1)
	p.Shutdown()
	assert.False(t, p.Submit("late", func() {}))
}

func TestPool_ShutdownWhileSubmitting(t *testing.T) {
	p := NewPool(4)

	var accepted, finished int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if p.Submit("work", func() { atomic.AddInt32(&finished, 1) }) {
					atomic.AddInt32(&accepted, 1)
				}
			}
		}()
	}

	p.Shutdown()
	done := atomic.LoadInt32(&finished)
	wg.Wait()

	// nothing accepted after Shutdown returned can still run
	assert.False(t, p.Submit("late", func() { atomic.AddInt32(&finished, 1) }))
	assert.Equal(t, done, atomic.LoadInt32(&finished))
	assert.LessOrEqual(t, done, atomic.LoadInt32(&accepted))
}
