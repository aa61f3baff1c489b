package webhook

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-render/job"
)

func TestNotifyIsNoopWithoutWebhookURL(t *testing.T) {
	n := New()
	n.Notify(&job.Job{ID: "j1", Status: job.StatusCompleted})
	// nothing to assert beyond "doesn't panic" - there's no URL to call
}

func TestNotifyDeliversPayload(t *testing.T) {
	var received atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New()
	j := &job.Job{ID: "j1", Status: job.StatusCompleted, WebhookURL: srv.URL}
	n.Notify(j)

	require.Eventually(t, func() bool { return received.Load() }, time.Second, 5*time.Millisecond)
}

func TestNotifyRetriesOnTransientFailureThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	var succeeded atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		succeeded.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New()
	n.backOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Millisecond
		b.MaxInterval = 5 * time.Millisecond
		b.MaxElapsedTime = 0
		return b
	}

	n.Notify(&job.Job{ID: "j1", Status: job.StatusError, WebhookURL: srv.URL})

	require.Eventually(t, func() bool { return succeeded.Load() }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestPayloadForMapsJobFields(t *testing.T) {
	start := time.Now()
	j := &job.Job{
		ID:        "job-42",
		Status:    job.StatusProcessing,
		InputURL:  "s3://in/video.mp4",
		OutputURL: "s3://out/",
		Progress:  42.5,
		StartTime: &start,
	}
	p := payloadFor(j)

	require.Equal(t, "job-42", p.ID)
	require.Equal(t, "processing", p.Status)
	require.Equal(t, "s3://in/video.mp4", p.InputURL)
	require.Equal(t, 42.5, p.Progress)
	require.NotNil(t, p.StartTime)
	require.Nil(t, p.EndTime)
}
