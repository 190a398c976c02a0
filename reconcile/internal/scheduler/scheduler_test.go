package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]models.Category
	ran   chan struct{}
}

func (r *fakeRunner) RunAll(_ context.Context, cats []models.Category) ([]*models.RunReport, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cats)
	r.mu.Unlock()
	select {
	case r.ran <- struct{}{}:
	default:
	}
	return nil, nil
}

type fakePurger struct {
	mu          sync.Mutex
	auditCutoff time.Time
	errorCutoff time.Time
}

func (p *fakePurger) PurgeAuditBefore(_ context.Context, ts time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auditCutoff = ts
	return 3, nil
}

func (p *fakePurger) PurgeErrorsBefore(_ context.Context, ts time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCutoff = ts
	return 1, nil
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 7, 31, 10, 0, 0, 0, time.UTC)
	purger := &fakePurger{}
	s := New(&fakeRunner{}, purger, Config{AuditDays: 30, ErrorDays: 7, Now: func() time.Time { return now }}, logging.Discard().Logger)

	s.Sweep(context.Background())
	assert.Equal(t, time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC), purger.auditCutoff)
	assert.Equal(t, time.Date(2024, 7, 24, 10, 0, 0, 0, time.UTC), purger.errorCutoff)
}

func TestSweep_ZeroDaysKeepsRows(t *testing.T) {
	purger := &fakePurger{}
	s := New(&fakeRunner{}, purger, Config{ErrorDays: 7}, logging.Discard().Logger)

	s.Sweep(context.Background())
	assert.True(t, purger.auditCutoff.IsZero())
	assert.False(t, purger.errorCutoff.IsZero())
}

func TestEnabled(t *testing.T) {
	cats := []models.Category{models.CategoryFDC}
	assert.False(t, New(nil, nil, Config{}, nil).Enabled())
	assert.False(t, New(nil, nil, Config{RunInterval: time.Minute}, nil).Enabled(), "no categories")
	assert.True(t, New(nil, nil, Config{RunInterval: time.Minute, Categories: cats}, nil).Enabled())
	assert.True(t, New(nil, nil, Config{AuditDays: 1}, nil).Enabled())
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	runner := &fakeRunner{ran: make(chan struct{}, 1)}
	s := New(runner, &fakePurger{}, Config{
		RunInterval: time.Hour,
		Categories:  []models.Category{models.CategoryContribution, models.CategoryFDC},
	}, logging.Discard().Logger)

	go s.Start(context.Background())

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run on start")
	}
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []models.Category{models.CategoryContribution, models.CategoryFDC}, runner.calls[0])
}

func TestStart_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeRunner{}, &fakePurger{}, Config{}, logging.Discard().Logger)

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit on cancel")
	}
}
