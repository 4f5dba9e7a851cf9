package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/logx"
)

type fakeBrowser struct {
	mu         sync.Mutex
	healthy    bool
	due        bool
	refreshes  int
	refreshErr error
	panicOnce  bool
}

func (b *fakeBrowser) Refresh(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.panicOnce {
		b.panicOnce = false
		panic("driver vanished")
	}
	b.refreshes++
	return b.refreshErr == nil, b.refreshErr
}

func (b *fakeBrowser) Healthy(context.Context) bool { return b.healthy }
func (b *fakeBrowser) NeedsRefresh(time.Time) bool { return b.due }
func (b *fakeBrowser) NextRefresh() time.Time { return time.Now().Add(3 * time.Hour) }

func (b *fakeBrowser) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

type fakeJobs int

func (j fakeJobs) ActiveCount() int { return int(j) }

func newTestScheduler(t *testing.T, b *fakeBrowser, active int) *Scheduler {
	t.Helper()
	s, err := New(b, fakeJobs(active), Options{RefreshSpec: "0 6 * * *", HealthSpec: "@hourly"}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(&fakeBrowser{}, fakeJobs(0), Options{RefreshSpec: "every day", HealthSpec: "@hourly"}, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid refresh schedule")
}

func TestDailyRefresh(t *testing.T) {
	b := &fakeBrowser{healthy: true}
	newTestScheduler(t, b, 0).dailyRefresh(context.Background())
	assert.Equal(t, 1, b.count())
}

func TestDailyRefreshSkippedWhileJobActive(t *testing.T) {
	b := &fakeBrowser{healthy: true}
	newTestScheduler(t, b, 1).dailyRefresh(context.Background())
	assert.Zero(t, b.count())
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		due     bool
		active  int
		want    int
	}{
		{"healthy and fresh", true, false, 0, 0},
		{"interval elapsed", true, true, 0, 1},
		{"browser gone", false, false, 0, 1},
		{"deferred while job runs", false, true, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBrowser{healthy: tt.healthy, due: tt.due}
			newTestScheduler(t, b, tt.active).healthCheck(context.Background())
			assert.Equal(t, tt.want, b.count())
		})
	}
}

func TestRefreshInProgressIsTolerated(t *testing.T) {
	b := &fakeBrowser{due: true, healthy: true, refreshErr: browser.ErrRefreshInProgress}
	newTestScheduler(t, b, 0).healthCheck(context.Background())
	assert.Equal(t, 1, b.count())
}

func TestPanicsAreRecovered(t *testing.T) {
	b := &fakeBrowser{panicOnce: true}
	s := newTestScheduler(t, b, 0)

	job := cron.NewChain(cron.Recover(logx.CronLogger{L: zerolog.Nop()})).Then(cron.FuncJob(s.wrap(s.dailyRefresh)))
	assert.NotPanics(t, job.Run)

	job.Run()
	assert.Equal(t, 1, b.count())
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, &fakeBrowser{healthy: true}, 0)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
