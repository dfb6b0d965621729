package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/stemsplit-api/internal/job"
)

type capturePublisher struct {
	subject string
	data    []byte
	err     error
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func completedJob() *job.Job {
	j := job.NewWithID("job-1", "acct-9", "song.wav", "/in/abc.wav")
	j.Status = job.StatusCompleted
	j.CompletedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.Result = &job.Result{
		ProjectID: "abc",
		Stems:     map[string]string{"vocals": "http://x/vocals.wav"},
	}
	return j
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(completedJob())

	assert.Equal(t, "job-1", e.JobID)
	assert.Equal(t, "acct-9", e.Owner)
	assert.Equal(t, "COMPLETED", e.Status)
	assert.Equal(t, "abc", e.ProjectID)
	assert.Equal(t, map[string]string{"vocals": "http://x/vocals.wav"}, e.Stems)
	assert.Empty(t, e.ErrorKind)
}

func TestNewEvent_Failed(t *testing.T) {
	j := job.NewWithID("job-2", "acct", "n", "s")
	j.Status = job.StatusFailed
	j.Failure = &job.Failure{Kind: job.KindMissingOutput}

	e := NewEvent(j)
	assert.Equal(t, "FAILED", e.Status)
	assert.Equal(t, "missing_output", e.ErrorKind)
	assert.Nil(t, e.Stems)
}

func TestNATSNotifier_Notify(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNATSNotifier(pub, "", nil)

	require.NoError(t, n.Notify(context.Background(), completedJob()))
	assert.Equal(t, DefaultSubject, pub.subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, "COMPLETED", got["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got["completed_at"])
	assert.NotContains(t, got, "error_kind")
}

func TestNATSNotifier_PublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("nats: connection closed")}
	n := NewNATSNotifier(pub, "custom.subject", nil)

	err := n.Notify(context.Background(), completedJob())
	assert.Error(t, err)
	assert.Equal(t, "custom.subject", pub.subject)
}

func TestNATSNotifier_CancelledContext(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNATSNotifier(pub, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, n.Notify(ctx, completedJob()), context.Canceled)
	assert.Nil(t, pub.data)
}

func TestNATSNotifier_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewNATSNotifier(&capturePublisher{}, "", nil).Close())
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "", nil)
	assert.Error(t, err)
}

func TestNoopNotifier(t *testing.T) {
	assert.NoError(t, NoopNotifier{}.Notify(context.Background(), completedJob()))
}
