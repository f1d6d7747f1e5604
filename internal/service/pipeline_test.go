package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	"github.com/arcovabio/annex/internal/testutil"
)

// TestPipelineSubmitToArchiveEligible walks one free-tier job through
// the full hot path: submission pickup, task completion, and the
// archive message that makes it cold-migration eligible.
func TestPipelineSubmitToArchiveEligible(t *testing.T) {
	ctx := context.Background()
	aws := testAWSConfig()

	queue := testutil.NewFakeQueue()
	repo := testutil.NewFakeAnnotationRepo()
	blobs := testutil.NewFakeBlobStore()
	tasks := testutil.NewFakeTaskRunner()
	profiles := testutil.NewFakeProfileService()
	publisher := testutil.NewFakePublisher()
	cold := testutil.NewFakeColdArchive()

	profiles.Put(testutil.NewProfile().Build())

	completion, err := NewCompletionService(CompletionServiceOptions{
		Repo:      repo,
		Profiles:  profiles,
		Blobs:     blobs,
		Publisher: publisher,
		AWS:       aws,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	requestWorker, err := NewRequestWorker(RequestWorkerOptions{
		Queue:      queue,
		Repo:       repo,
		Blobs:      blobs,
		Tasks:      tasks,
		Completion: completion,
		Request:    config.RequestWorkerConfig{StagingDir: t.TempDir()},
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	archiveQueue := testutil.NewFakeQueue()
	archiveWorker, err := NewArchiveWorker(ArchiveWorkerOptions{
		Queue:    archiveQueue,
		Repo:     repo,
		Profiles: profiles,
		Blobs:    blobs,
		Cold:     cold,
		Archive:  config.ArchiveWorkerConfig{GracePeriod: 0},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	// Submit.
	sub := testutil.NewSubmission().WithSubmitTime(time.Now().UTC())
	msg := sub.Build()
	blobs.PutBytes(msg.InputBucket, msg.InputKey, []byte("vcf data"))

	disp := requestWorker.handleMessage(ctx, core.Message{Body: sub.BuildJSON(), Token: "t1"})
	require.Equal(t, ActionAck, disp.Action)

	rec, err := repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusRunning, rec.Status)

	// The annotation task finishes.
	started := tasks.Started()
	require.Len(t, started, 1)
	res := stageTaskResult(t, msg.JobID)
	require.NoError(t, completion.HandleResult(ctx, res))

	rec, err = repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, rec.Status)
	require.NotNil(t, rec.ResultKey)

	// The published archive message drives the archive worker.
	archived := publisher.Published(aws.ArchiveTopic)
	require.Len(t, archived, 1)

	disp = archiveWorker.handleMessage(ctx, core.Message{Body: archived[0].Payload, Token: "t2"})
	require.Equal(t, ActionAck, disp.Action)

	rec, err = repo.GetByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveStatusArchived, rec.ArchiveStatus)
	require.NotNil(t, rec.ArchiveID)
	assert.True(t, cold.HasArchive(*rec.ArchiveID))
	assert.False(t, blobs.Exists(*rec.ResultBucket, *rec.ResultKey))
}

// TestPipelineRestoreAndThaw walks an archived job back to hot storage
// through the restore trigger and the thaw notification.
func TestPipelineRestoreAndThaw(t *testing.T) {
	ctx := context.Background()

	repo := testutil.NewFakeAnnotationRepo()
	blobs := testutil.NewFakeBlobStore()
	cold := testutil.NewFakeColdArchive()

	rec := testutil.NewAnnotationJob().
		Completed("annex-results", "annex/user-1/sample.annot.vcf", testutil.TestTime()).
		Build()
	archiveID, err := cold.Store(ctx, rec.ID, strings.NewReader("cold bytes"))
	require.NoError(t, err)
	rec.ArchiveID = &archiveID
	rec.ArchiveStatus = model.ArchiveStatusArchived
	repo.Put(rec)

	restoreWorker, err := NewRestoreWorker(RestoreWorkerOptions{
		Queue:  testutil.NewFakeQueue(),
		Repo:   repo,
		Cold:   cold,
		Logger: testLogger(),
	})
	require.NoError(t, err)

	trigger, err := json.Marshal(model.RestoreMessage{UserID: rec.UserID})
	require.NoError(t, err)
	disp := restoreWorker.handleMessage(ctx, core.Message{Body: trigger, Token: "t1"})
	require.Equal(t, ActionAck, disp.Action)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ArchiveStatusRestoring, got.ArchiveStatus)

	retrievals := cold.Retrievals()
	require.Len(t, retrievals, 1)

	thawWorker, err := NewThawWorker(ThawWorkerOptions{
		Queue:  testutil.NewFakeQueue(),
		Repo:   repo,
		Blobs:  blobs,
		Cold:   cold,
		Logger: testLogger(),
	})
	require.NoError(t, err)

	notice, err := json.Marshal(model.ThawMessage{
		RetrievalID: retrievals[0],
		ArchiveID:   archiveID,
	})
	require.NoError(t, err)
	disp = thawWorker.handleMessage(ctx, core.Message{Body: notice, Token: "t2"})
	require.Equal(t, ActionAck, disp.Action)

	blob, ok := blobs.GetBytes(*rec.ResultBucket, *rec.ResultKey)
	require.True(t, ok)
	assert.Equal(t, []byte("cold bytes"), blob)

	got, err = repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ArchiveID)
	assert.Equal(t, model.ArchiveStatusNone, got.ArchiveStatus)
	assert.False(t, cold.HasArchive(archiveID))
}
