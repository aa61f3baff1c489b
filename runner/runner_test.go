package runner

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-render/executor"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/manifest"
	"github.com/livepeer/catalyst-render/queue"
	"github.com/livepeer/catalyst-render/webhook"
)

// stubController is a controllerHandle double: Start/Status/IsCompleted are
// driven by fields a test sets up front, so Run's poll loop can be exercised
// without forking real subprocesses.
type stubController struct {
	startErr    error
	status      executor.Status
	isCompleted bool
	progress    func(float64)

	stopped atomic.Bool
	closed  atomic.Bool
}

func (s *stubController) Start(_ job.RenditionSettings, progressCallback func(float64)) error {
	s.progress = progressCallback
	return s.startErr
}
func (s *stubController) Status() executor.Status { return s.status }
func (s *stubController) IsCompleted() bool       { return s.isCompleted }
func (s *stubController) Stop()                   { s.stopped.Store(true); s.isCompleted = true }
func (s *stubController) Close()                  { s.closed.Store(true) }

func newTestRunner(t *testing.T, stub *stubController) (*Runner, job.Store, *httptest.Server, *int32) {
	t.Helper()

	var webhookHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhookHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	store := job.NewMemoryStore()
	r := New(store, webhook.New(), manifest.New(), queue.NewInMemoryLocker(), queue.NewRevoker(nil))
	r.newController = func() controllerHandle { return stub }
	return r, store, server, &webhookHits
}

func seedJob(t *testing.T, store job.Store, webhookURL string) (*job.Job, *job.Output) {
	t.Helper()

	o := &job.Output{ID: job.NewID(), Name: "720p", Status: job.StatusQueued, BackgroundTaskID: "task-1"}
	j := &job.Job{
		ID:         job.NewID(),
		Status:     job.StatusQueued,
		WebhookURL: webhookURL,
		Outputs:    []*job.Output{o},
	}
	require.NoError(t, store.CreateJob(j))
	return j, o
}

func TestRunCompletesOutputAndJob(t *testing.T) {
	stub := &stubController{status: executor.Finished, isCompleted: true}
	r, store, server, hits := newTestRunner(t, stub)
	j, o := seedJob(t, store, server.URL)

	err := r.Run("task-1", j.ID, o.ID)
	require.NoError(t, err)

	got, ok := store.GetJob(j.ID)
	require.True(t, ok)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.Equal(t, job.StatusCompleted, got.Outputs[0].Status)
	require.Equal(t, 100.0, got.Outputs[0].Progress)
	require.True(t, stub.closed.Load())

	require.Eventually(t, func() bool { return atomic.LoadInt32(hits) >= 2 }, time.Second, 10*time.Millisecond)
}

func TestRunMarksOutputAndJobErrorOnControllerFailure(t *testing.T) {
	stub := &stubController{status: executor.Errored, isCompleted: true}
	r, store, server, _ := newTestRunner(t, stub)
	j, o := seedJob(t, store, server.URL)

	err := r.Run("task-1", j.ID, o.ID)
	require.NoError(t, err)

	got, ok := store.GetJob(j.ID)
	require.True(t, ok)
	require.Equal(t, job.StatusError, got.Status)
	require.Equal(t, job.StatusError, got.Outputs[0].Status)
	require.NotEmpty(t, got.Outputs[0].ErrorMessage)
}

func TestRunRevokesSiblingsOnError(t *testing.T) {
	stub := &stubController{status: executor.Errored, isCompleted: true}
	r, store, server, _ := newTestRunner(t, stub)

	sibling := &job.Output{ID: job.NewID(), Name: "360p", Status: job.StatusProcessing, BackgroundTaskID: "task-2"}
	j, o := seedJob(t, store, server.URL)
	require.NoError(t, store.UpdateJob(j.ID, func(j *job.Job) error {
		j.Outputs = append(j.Outputs, sibling)
		return nil
	}))

	revoked := r.revoker.Register("task-2")

	err := r.Run("task-1", j.ID, o.ID)
	require.NoError(t, err)

	select {
	case <-revoked.Done():
	default:
		t.Fatal("expected sibling task-2 to be revoked")
	}
}

func TestRunHoldsBackJobCompletionUntilLastSibling(t *testing.T) {
	stub := &stubController{status: executor.Finished, isCompleted: true}
	r, store, server, _ := newTestRunner(t, stub)

	sibling := &job.Output{ID: job.NewID(), Name: "360p", Status: job.StatusProcessing}
	j, o := seedJob(t, store, server.URL)
	require.NoError(t, store.UpdateJob(j.ID, func(j *job.Job) error {
		j.Outputs = append(j.Outputs, sibling)
		return nil
	}))

	err := r.Run("task-1", j.ID, o.ID)
	require.NoError(t, err)

	got, ok := store.GetJob(j.ID)
	require.True(t, ok)
	require.NotEqual(t, job.StatusCompleted, got.Status)
	require.Equal(t, job.StatusCompleted, got.Outputs[0].Status)
	require.Equal(t, job.StatusProcessing, got.Outputs[1].Status)
}

func TestUpdateProgressOnlyPersistsOnExactMultipleOfFive(t *testing.T) {
	stub := &stubController{status: executor.Running, isCompleted: false}
	r, store, server, _ := newTestRunner(t, stub)
	j, o := seedJob(t, store, server.URL)
	_, _ = j, o

	r.updateProgress(j.ID, o.ID, 42)
	got, _ := store.GetJob(j.ID)
	require.Equal(t, 0.0, got.Outputs[0].Progress, "non-multiple-of-five should not persist")

	r.updateProgress(j.ID, o.ID, 40)
	got, _ = store.GetJob(j.ID)
	require.Equal(t, 40.0, got.Outputs[0].Progress)

	r.updateProgress(j.ID, o.ID, 40)
	got, _ = store.GetJob(j.ID)
	require.Equal(t, 40.0, got.Outputs[0].Progress, "unchanged value should not re-persist")

	r.updateProgress(j.ID, o.ID, 45)
	got, _ = store.GetJob(j.ID)
	require.Equal(t, 45.0, got.Outputs[0].Progress)
}
