package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	"github.com/arcovabio/annex/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAWSConfig() config.AWSConfig {
	return config.AWSConfig{
		Region:          "us-east-1",
		CompletionTopic: "arn:aws:sns:us-east-1:000000000000:completion",
		ArchiveTopic:    "arn:aws:sns:us-east-1:000000000000:archive",
		RestoreTopic:    "arn:aws:sns:us-east-1:000000000000:restore",
		InputBucket:     "annex-inputs",
		ResultBucket:    "annex-results",
		KeyNamespace:    "annex",
	}
}

type requestFixture struct {
	worker     *RequestWorker
	queue      *testutil.FakeQueue
	repo       *testutil.FakeAnnotationRepo
	blobs      *testutil.FakeBlobStore
	tasks      *testutil.FakeTaskRunner
	profiles   *testutil.FakeProfileService
	publisher  *testutil.FakePublisher
	completion *CompletionService
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()

	f := &requestFixture{
		queue:     testutil.NewFakeQueue(),
		repo:      testutil.NewFakeAnnotationRepo(),
		blobs:     testutil.NewFakeBlobStore(),
		tasks:     testutil.NewFakeTaskRunner(),
		profiles:  testutil.NewFakeProfileService(),
		publisher: testutil.NewFakePublisher(),
	}
	f.profiles.Put(testutil.NewProfile().Build())

	completion, err := NewCompletionService(CompletionServiceOptions{
		Repo:      f.repo,
		Profiles:  f.profiles,
		Blobs:     f.blobs,
		Publisher: f.publisher,
		AWS:       testAWSConfig(),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	f.completion = completion

	worker, err := NewRequestWorker(RequestWorkerOptions{
		Queue:      f.queue,
		Repo:       f.repo,
		Blobs:      f.blobs,
		Tasks:      f.tasks,
		Completion: completion,
		Request:    config.RequestWorkerConfig{StagingDir: t.TempDir()},
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	f.worker = worker
	return f
}

func TestRequestWorkerStartsTask(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	sub := testutil.NewSubmission()
	msg := sub.Build()
	f.blobs.PutBytes(msg.InputBucket, msg.InputKey, []byte("vcf data"))

	disp := f.worker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t1"})
	assert.Equal(t, ActionAck, disp.Action)

	started := f.tasks.Started()
	require.Len(t, started, 1)
	assert.Equal(t, msg.JobID, started[0].JobID)

	rec, err := f.repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, rec.Status)
	assert.Equal(t, msg.UserID, rec.UserID)
}

func TestRequestWorkerDuplicateForActiveJob(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	sub := testutil.NewSubmission()
	msg := sub.Build()
	f.blobs.PutBytes(msg.InputBucket, msg.InputKey, []byte("vcf data"))

	first := f.worker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t1"})
	require.Equal(t, ActionAck, first.Action)

	// Redelivery of the same submission after pickup.
	second := f.worker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t2"})
	assert.Equal(t, ActionAck, second.Action)

	assert.Len(t, f.tasks.Started(), 1, "duplicate must not start a second task")

	rec, err := f.repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, rec.Status, "status must not regress")
}

func TestRequestWorkerDropsMalformedPayloads(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("not json")},
		{name: "missing fields", body: []byte(`{"job_id":"j1"}`)},
		{name: "empty body", body: nil},
		{name: "traversal file name", body: testutil.NewSubmission().WithInputFileName("../../etc/passwd").BuildJSON()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			disp := f.worker.handleMessage(ctx, core.Message{Body: tc.body, Token: "t1"})
			assert.Equal(t, ActionDrop, disp.Action)
			assert.Error(t, disp.Err)
		})
	}

	assert.Empty(t, f.tasks.Started())
}

func TestRequestWorkerRetriesOnStagingFailure(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	// Input object missing: infrastructure-style failure leaves the
	// record PENDING and the message for redelivery.
	sub := testutil.NewSubmission()
	disp := f.worker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t1"})
	assert.Equal(t, ActionRetry, disp.Action)

	rec, err := f.repo.GetByID(ctx, sub.Build().JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, rec.Status)
	assert.Empty(t, f.tasks.Started())
}

func TestRequestWorkerRetriesOnTaskStartFailure(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	sub := testutil.NewSubmission()
	msg := sub.Build()
	f.blobs.PutBytes(msg.InputBucket, msg.InputKey, []byte("vcf data"))
	f.tasks.StartErr = assert.AnError

	disp := f.worker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t1"})
	assert.Equal(t, ActionRetry, disp.Action)

	rec, err := f.repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, rec.Status)
}

func TestRequestWorkerRunProcessesQueue(t *testing.T) {
	f := newRequestFixture(t)

	sub := testutil.NewSubmission()
	msg := sub.Build()
	f.blobs.PutBytes(msg.InputBucket, msg.InputKey, []byte("vcf data"))
	token := f.queue.Push(sub.BuildJSON())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.queue.Deleted(token)
	}, 2*time.Second, 10*time.Millisecond, "submission should be acknowledged")

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, f.tasks.Started(), 1)
}
