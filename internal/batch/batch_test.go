package batch

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/apperr"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
)

var (
	errTransient = errors.New("transient")
	errBadItem   = errors.New("bad item")
	errFatal     = errors.New("fatal")
)

func testPolicy() Policy {
	return Policy{
		Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
		Skippable:  func(err error) bool { return errors.Is(err, errBadItem) },
		RetryLimit: 3,
		SkipLimit:  2,
		Backoff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

type recordingSkips struct {
	process []int
	write   []string
}

func (r *recordingSkips) OnSkipInRead(context.Context, error) {}
func (r *recordingSkips) OnSkipInProcess(_ context.Context, item int, _ error) {
	r.process = append(r.process, item)
}
func (r *recordingSkips) OnSkipInWrite(_ context.Context, item string, _ error) {
	r.write = append(r.write, item)
}

type sink struct {
	chunks  [][]string
	failing map[string]error
}

func (s *sink) Write(_ context.Context, items []string) error {
	for _, it := range items {
		if err, ok := s.failing[it]; ok {
			return err
		}
	}
	s.chunks = append(s.chunks, append([]string(nil), items...))
	return nil
}

func (s *sink) written() []string {
	var out []string
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func itoa(_ context.Context, n int) (string, bool, error) {
	return strconv.Itoa(n), true, nil
}

func TestChunkStep_WritesInChunks(t *testing.T) {
	out := &sink{}
	step := &ChunkStep[int, string]{
		StepName:  "numbers",
		Size:      2,
		Reader:    NewSliceReader([]int{1, 2, 3, 4, 5}),
		Processor: ProcessorFunc[int, string](itoa),
		Writer:    out,
		Policy:    testPolicy(),
	}
	exec := &StepExecution{}
	require.NoError(t, step.Execute(context.Background(), exec))

	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, out.chunks)
	assert.Equal(t, 5, exec.ReadCount)
	assert.Equal(t, 5, exec.WriteCount)
	assert.Equal(t, 3, exec.CommitCount)
}

func TestChunkStep_FilterAndProcessSkip(t *testing.T) {
	out := &sink{}
	skips := &recordingSkips{}
	step := &ChunkStep[int, string]{
		StepName: "filter",
		Size:     10,
		Reader:   NewSliceReader([]int{1, 2, 3, 4}),
		Processor: ProcessorFunc[int, string](func(ctx context.Context, n int) (string, bool, error) {
			switch n {
			case 2:
				return "", false, nil
			case 3:
				return "", false, errBadItem
			}
			return itoa(ctx, n)
		}),
		Writer: out,
		Policy: testPolicy(),
		Skips:  []SkipListener[int, string]{skips},
	}
	exec := &StepExecution{}
	require.NoError(t, step.Execute(context.Background(), exec))

	assert.Equal(t, []string{"1", "4"}, out.written())
	assert.Equal(t, []int{3}, skips.process)
	assert.Equal(t, 1, exec.FilterCount)
	assert.Equal(t, 1, exec.SkipCount)
}

func TestChunkStep_RetriesTransientProcessErrors(t *testing.T) {
	calls := 0
	step := &ChunkStep[int, string]{
		StepName: "retry",
		Size:     1,
		Reader:   NewSliceReader([]int{1}),
		Processor: ProcessorFunc[int, string](func(ctx context.Context, n int) (string, bool, error) {
			calls++
			if calls < 3 {
				return "", false, errTransient
			}
			return itoa(ctx, n)
		}),
		Writer: &sink{},
		Policy: testPolicy(),
	}
	exec := &StepExecution{}
	require.NoError(t, step.Execute(context.Background(), exec))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, exec.WriteCount)
}

func TestChunkStep_ScanIsolatesBadWrites(t *testing.T) {
	out := &sink{failing: map[string]error{"2": errBadItem}}
	skips := &recordingSkips{}
	step := &ChunkStep[int, string]{
		StepName:  "scan",
		Size:      3,
		Reader:    NewSliceReader([]int{1, 2, 3}),
		Processor: ProcessorFunc[int, string](itoa),
		Writer:    out,
		Policy:    testPolicy(),
		Skips:     []SkipListener[int, string]{skips},
	}
	exec := &StepExecution{}
	require.NoError(t, step.Execute(context.Background(), exec))

	assert.Equal(t, [][]string{{"1"}, {"3"}}, out.chunks, "items are written one by one after a chunk failure")
	assert.Equal(t, []string{"2"}, skips.write)
	assert.Equal(t, 2, exec.WriteCount)
	assert.Equal(t, 1, exec.SkipCount)
}

func TestChunkStep_Failures(t *testing.T) {
	tests := []struct {
		name    string
		items   []int
		failing map[string]error
		wantErr error
	}{
		{"fatal write", []int{1}, map[string]error{"1": errFatal}, errFatal},
		{"skip limit", []int{1, 2, 3}, map[string]error{"1": errBadItem, "2": errBadItem, "3": errBadItem}, ErrSkipLimitExceeded},
		{"retries exhausted", []int{1}, map[string]error{"1": errTransient}, errTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &ChunkStep[int, string]{
				StepName:  tt.name,
				Size:      5,
				Reader:    NewSliceReader(tt.items),
				Processor: ProcessorFunc[int, string](itoa),
				Writer:    &sink{failing: tt.failing},
				Policy:    testPolicy(),
			}
			err := step.Execute(context.Background(), &StepExecution{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPagingReader(t *testing.T) {
	data := []int64{1, 2, 3, 4, 5}
	var cursors []int64
	r := NewPagingReader(2, func(_ context.Context, cursor int64, limit int) ([]int64, error) {
		cursors = append(cursors, cursor)
		var page []int64
		for _, v := range data {
			if v > cursor && len(page) < limit {
				page = append(page, v)
			}
		}
		return page, nil
	}, func(v int64) int64 { return v })

	var got []int64
	for {
		v, ok, err := r.Read(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, data, got)
	assert.Equal(t, []int64{0, 2, 4}, cursors)
}

func TestParamsKey(t *testing.T) {
	p := Params{"targetMonth": "2025-03", "a": "1"}
	assert.Equal(t, "a=1&targetMonth=2025-03", p.Key())
	assert.Equal(t, "report?a=1&targetMonth=2025-03", JobKey("report", p))
	assert.Equal(t, "report", JobKey("report", nil))
}

func testNow() time.Time {
	return time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)
}

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Output: io.Discard})
}

func openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "batch.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLauncher(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	launcher := NewLauncher(db.Repos().Executions, testLogger(), 0)
	params := Params{"targetMonth": "2025-03"}

	fail := true
	job := &Job{
		Name: "report",
		Steps: []Step{&ChunkStep[int, string]{
			StepName: "only",
			Size:     2,
			Reader:   NewSliceReader([]int{1, 2, 3}),
			Processor: ProcessorFunc[int, string](func(ctx context.Context, n int) (string, bool, error) {
				if fail {
					return "", false, errFatal
				}
				return itoa(ctx, n)
			}),
			Writer: &sink{},
			Policy: testPolicy(),
		}},
		JobListeners:  []JobListener{NewLogListener(testLogger())},
		StepListeners: []StepListener{NewLogListener(testLogger())},
	}

	exec, err := launcher.Run(ctx, job, params)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.BatchRun))
	assert.Equal(t, StatusFailed, exec.Status)

	last, err := db.Repos().Executions.Latest(ctx, JobKey("report", params))
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionFailed, last.Status)
	assert.NotNil(t, last.EndedAt)

	// A failed instance may be restarted with fresh readers.
	fail = false
	job.Steps[0].(*ChunkStep[int, string]).Reader = NewSliceReader([]int{1, 2, 3})
	exec, err = launcher.Run(ctx, job, params)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	_, write, _ := exec.Totals()
	assert.Equal(t, 3, write)

	_, err = launcher.Run(ctx, job, params)
	assert.True(t, apperr.HasCode(err, apperr.BatchCompleted))

	_, err = launcher.Run(ctx, job, Params{"targetMonth": "2025-04"})
	assert.NoError(t, err, "other params form a new instance")
}

func TestLauncher_RejectsRunningInstance(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	repo := db.Repos().Executions
	params := Params{"targetMonth": "2025-03"}

	_, err := repo.Create(ctx, core.JobExecution{
		JobName: "report", JobKey: JobKey("report", params), Params: params.Key(),
		Status: core.ExecutionRunning, StartedAt: testNow().Add(-time.Hour),
	})
	require.NoError(t, err)

	job := &Job{Name: "report"}

	strict := NewLauncher(repo, testLogger(), 0)
	_, err = strict.Run(ctx, job, params)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	lenient := NewLauncher(repo, testLogger(), 30*time.Minute)
	lenient.now = testNow
	_, err = lenient.Run(ctx, job, params)
	assert.NoError(t, err, "stale executions are abandoned")
}

func TestLauncher_OneClaimAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	// Each handle has its own pool, as budget-api and budget-worker do.
	const processes = 3
	launchers := make([]*Launcher, processes)
	for i := range launchers {
		db, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, DSN: path})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		launchers[i] = NewLauncher(db.Repos().Executions, testLogger(), time.Hour)
	}
	params := Params{"targetMonth": "2025-03"}

	started := make(chan struct{}, processes)
	release := make(chan struct{})
	blocking := func() *Job {
		return &Job{
			Name: "report",
			Steps: []Step{&ChunkStep[int, string]{
				StepName: "only",
				Size:     1,
				Reader:   NewSliceReader([]int{1}),
				Processor: ProcessorFunc[int, string](func(ctx context.Context, n int) (string, bool, error) {
					started <- struct{}{}
					<-release
					return itoa(ctx, n)
				}),
				Writer: &sink{},
				Policy: testPolicy(),
			}},
		}
	}

	results := make(chan error, processes)
	for _, l := range launchers {
		go func() {
			_, err := l.Run(ctx, blocking(), params)
			results <- err
		}()
	}

	for i := 0; i < processes-1; i++ {
		err := <-results
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	<-started
	close(release)
	require.NoError(t, <-results)
	assert.Len(t, started, 0, "only one launcher ran the job")

	for _, l := range launchers {
		_, err := l.Run(ctx, blocking(), params)
		assert.True(t, apperr.HasCode(err, apperr.BatchCompleted))
	}
}
