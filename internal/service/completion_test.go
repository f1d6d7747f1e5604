package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	"github.com/arcovabio/annex/internal/mocks"
	"github.com/arcovabio/annex/internal/testutil"
)

type completionFixture struct {
	svc       *CompletionService
	repo      *testutil.FakeAnnotationRepo
	blobs     *testutil.FakeBlobStore
	profiles  *testutil.FakeProfileService
	publisher *testutil.FakePublisher
}

func newCompletionFixture(t *testing.T) *completionFixture {
	t.Helper()

	f := &completionFixture{
		repo:      testutil.NewFakeAnnotationRepo(),
		blobs:     testutil.NewFakeBlobStore(),
		profiles:  testutil.NewFakeProfileService(),
		publisher: testutil.NewFakePublisher(),
	}

	svc, err := NewCompletionService(CompletionServiceOptions{
		Repo:      f.repo,
		Profiles:  f.profiles,
		Blobs:     f.blobs,
		Publisher: f.publisher,
		AWS:       testAWSConfig(),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

// stageTaskResult lays out the artifacts a finished annotation task
// leaves on disk and returns the matching TaskResult.
func stageTaskResult(t *testing.T, jobID string) core.TaskResult {
	t.Helper()

	dir := filepath.Join(t.TempDir(), jobID)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	resultPath := filepath.Join(dir, "sample.annot.vcf")
	logPath := filepath.Join(dir, "sample.vcf.count.log")
	require.NoError(t, os.WriteFile(resultPath, []byte("annotated"), 0o600))
	require.NoError(t, os.WriteFile(logPath, []byte("counts"), 0o600))

	return core.TaskResult{
		JobID:      jobID,
		ResultPath: resultPath,
		LogPath:    logPath,
		FinishedAt: testutil.TestTime(),
	}
}

func TestCompletionUploadsAndCompletes(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)
	f.profiles.Put(testutil.NewProfile().WithUserID(rec.UserID).Build())

	res := stageTaskResult(t, rec.ID)
	require.NoError(t, f.svc.HandleResult(ctx, res))

	got, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.CompleteTime)
	assert.Equal(t, testutil.TestTime(), *got.CompleteTime)
	require.NotNil(t, got.ResultKey)
	assert.Equal(t, "annex/"+rec.UserID+"/sample.annot.vcf", *got.ResultKey)
	require.NotNil(t, got.LogKey)
	assert.Equal(t, "annex/"+rec.UserID+"/sample.vcf.count.log", *got.LogKey)

	blob, ok := f.blobs.GetBytes("annex-results", *got.ResultKey)
	require.True(t, ok)
	assert.Equal(t, []byte("annotated"), blob)
	assert.True(t, f.blobs.Exists("annex-results", *got.LogKey))

	// Staged artifacts are removed once uploaded.
	_, statErr := os.Stat(filepath.Dir(res.ResultPath))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompletionQueuesFreeTierForArchival(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)
	f.profiles.Put(testutil.NewProfile().WithUserID(rec.UserID).Build())

	require.NoError(t, f.svc.HandleResult(ctx, stageTaskResult(t, rec.ID)))

	archived := f.publisher.Published(testAWSConfig().ArchiveTopic)
	require.Len(t, archived, 1)

	var am model.ArchiveMessage
	require.NoError(t, json.Unmarshal(archived[0].Payload, &am))
	assert.Equal(t, rec.ID, am.JobID)
	assert.Equal(t, rec.UserID, am.UserID)
	assert.Equal(t, "annex-results", am.ResultBucket)
	assert.Equal(t, testutil.TestTime(), am.CompleteTime)
	require.NoError(t, am.Validate())

	notices := f.publisher.Published(testAWSConfig().CompletionTopic)
	require.Len(t, notices, 1)
	var cn model.CompletionNotice
	require.NoError(t, json.Unmarshal(notices[0].Payload, &cn))
	assert.Equal(t, rec.ID, cn.JobID)
	assert.Equal(t, string(model.RoleFreeUser), cn.UserRole)
}

func TestCompletionSkipsArchivalForPremium(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)
	f.profiles.Put(testutil.NewProfile().WithUserID(rec.UserID).Premium().Build())

	require.NoError(t, f.svc.HandleResult(ctx, stageTaskResult(t, rec.ID)))

	assert.Empty(t, f.publisher.Published(testAWSConfig().ArchiveTopic))
	assert.Len(t, f.publisher.Published(testAWSConfig().CompletionTopic), 1)
}

func TestCompletionTaskFailureLeavesRecordRunning(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)

	err := f.svc.HandleResult(ctx, core.TaskResult{
		JobID: rec.ID,
		Err:   assert.AnError,
	})
	require.Error(t, err)

	got, getErr := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	assert.Empty(t, f.publisher.Published(testAWSConfig().CompletionTopic))
}

func TestCompletionNoticeUsesCachedProfileReads(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)
	f.profiles.Put(testutil.NewProfile().WithUserID(rec.UserID).Premium().Build())

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	cached := mocks.NewMockProfileService(ctrl)
	cached.EXPECT().GetProfile(gomock.Any(), rec.UserID).Return(&model.UserProfile{
		UserID: rec.UserID,
		Name:   "Cached Name",
		Email:  "cached@example.com",
		Role:   model.RolePremiumUser,
	}, nil)

	svc, err := NewCompletionService(CompletionServiceOptions{
		Repo:           f.repo,
		Profiles:       f.profiles,
		NoticeProfiles: cached,
		Blobs:          f.blobs,
		Publisher:      f.publisher,
		AWS:            testAWSConfig(),
		Logger:         testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, stageTaskResult(t, rec.ID)))

	notices := f.publisher.Published(testAWSConfig().CompletionTopic)
	require.Len(t, notices, 1)
	var cn model.CompletionNotice
	require.NoError(t, json.Unmarshal(notices[0].Payload, &cn))
	assert.Equal(t, "Cached Name", cn.UserName)
	assert.Equal(t, "cached@example.com", cn.UserEmail)
}

func TestCompletionDuplicateIsIdempotent(t *testing.T) {
	f := newCompletionFixture(t)
	ctx := context.Background()

	rec := testutil.NewAnnotationJob().WithStatus(model.JobStatusRunning).Build()
	f.repo.Put(rec)
	f.profiles.Put(testutil.NewProfile().WithUserID(rec.UserID).Build())

	require.NoError(t, f.svc.HandleResult(ctx, stageTaskResult(t, rec.ID)))
	// A second task for the same job finishing later must not publish
	// again or regress the record.
	require.NoError(t, f.svc.HandleResult(ctx, stageTaskResult(t, rec.ID)))

	assert.Len(t, f.publisher.Published(testAWSConfig().ArchiveTopic), 1)
	assert.Len(t, f.publisher.Published(testAWSConfig().CompletionTopic), 1)

	got, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}
