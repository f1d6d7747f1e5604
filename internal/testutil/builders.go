package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/arcovabio/annex/internal/domain/model"
)

// SubmissionBuilder provides a fluent interface for building SubmissionMessage payloads for testing.
type SubmissionBuilder struct {
	msg *model.SubmissionMessage
}

// NewSubmission creates a new SubmissionBuilder with sensible defaults.
func NewSubmission() *SubmissionBuilder {
	jobID := uuid.NewString()
	return &SubmissionBuilder{
		msg: &model.SubmissionMessage{
			JobID:         jobID,
			UserID:        "user-1",
			InputFileName: "sample.vcf",
			InputBucket:   "annex-inputs",
			InputKey:      "annex/user-1/" + jobID + "~sample.vcf",
			SubmitTime:    TestTime(),
			Status:        model.JobStatusPending,
		},
	}
}

// WithJobID sets the job id.
func (b *SubmissionBuilder) WithJobID(id string) *SubmissionBuilder {
	b.msg.JobID = id
	return b
}

// WithUserID sets the user id.
func (b *SubmissionBuilder) WithUserID(userID string) *SubmissionBuilder {
	b.msg.UserID = userID
	return b
}

// WithInputFileName sets the input file name.
func (b *SubmissionBuilder) WithInputFileName(name string) *SubmissionBuilder {
	b.msg.InputFileName = name
	return b
}

// WithInputKey sets the input object key.
func (b *SubmissionBuilder) WithInputKey(key string) *SubmissionBuilder {
	b.msg.InputKey = key
	return b
}

// WithSubmitTime sets the submission time.
func (b *SubmissionBuilder) WithSubmitTime(t time.Time) *SubmissionBuilder {
	b.msg.SubmitTime = t
	return b
}

// Build returns the built message.
func (b *SubmissionBuilder) Build() *model.SubmissionMessage {
	cp := *b.msg
	return &cp
}

// BuildJSON returns the built message as a queue payload.
func (b *SubmissionBuilder) BuildJSON() []byte {
	payload, err := json.Marshal(b.msg)
	if err != nil {
		panic(err)
	}
	return payload
}

// AnnotationJobBuilder provides a fluent interface for building AnnotationJob records for testing.
type AnnotationJobBuilder struct {
	rec *model.AnnotationJob
}

// NewAnnotationJob creates a new AnnotationJobBuilder with sensible defaults.
func NewAnnotationJob() *AnnotationJobBuilder {
	return &AnnotationJobBuilder{
		rec: &model.AnnotationJob{
			ID:            uuid.NewString(),
			UserID:        "user-1",
			InputFileName: "sample.vcf",
			InputBucket:   "annex-inputs",
			InputKey:      "annex/user-1/sample.vcf",
			SubmitTime:    TestTime(),
			Status:        model.JobStatusPending,
		},
	}
}

// WithID sets the job id.
func (b *AnnotationJobBuilder) WithID(id string) *AnnotationJobBuilder {
	b.rec.ID = id
	return b
}

// WithUserID sets the user id.
func (b *AnnotationJobBuilder) WithUserID(userID string) *AnnotationJobBuilder {
	b.rec.UserID = userID
	return b
}

// WithStatus sets the main status.
func (b *AnnotationJobBuilder) WithStatus(status model.JobStatus) *AnnotationJobBuilder {
	b.rec.Status = status
	return b
}

// WithSubmitTime sets the submission time.
func (b *AnnotationJobBuilder) WithSubmitTime(t time.Time) *AnnotationJobBuilder {
	b.rec.SubmitTime = t
	return b
}

// Completed marks the record COMPLETED with result artifacts in place.
func (b *AnnotationJobBuilder) Completed(bucket, resultKey string, at time.Time) *AnnotationJobBuilder {
	b.rec.Status = model.JobStatusCompleted
	b.rec.CompleteTime = &at
	b.rec.ResultBucket = &bucket
	b.rec.ResultKey = &resultKey
	logKey := resultKey + ".count.log"
	b.rec.LogKey = &logKey
	return b
}

// Archived marks the record's result as migrated to the cold tier.
func (b *AnnotationJobBuilder) Archived(archiveID string) *AnnotationJobBuilder {
	b.rec.ArchiveID = &archiveID
	b.rec.ArchiveStatus = model.ArchiveStatusArchived
	return b
}

// Restoring marks the record as mid-retrieval.
func (b *AnnotationJobBuilder) Restoring(archiveID string) *AnnotationJobBuilder {
	b.rec.ArchiveID = &archiveID
	b.rec.ArchiveStatus = model.ArchiveStatusRestoring
	return b
}

// Build returns the built record.
func (b *AnnotationJobBuilder) Build() *model.AnnotationJob {
	cp := *b.rec
	return &cp
}

// ProfileBuilder provides a fluent interface for building UserProfile records for testing.
type ProfileBuilder struct {
	profile *model.UserProfile
}

// NewProfile creates a new ProfileBuilder with sensible defaults.
func NewProfile() *ProfileBuilder {
	return &ProfileBuilder{
		profile: &model.UserProfile{
			UserID: "user-1",
			Name:   "Test User",
			Email:  "test@example.com",
			Role:   model.RoleFreeUser,
		},
	}
}

// WithUserID sets the user id.
func (b *ProfileBuilder) WithUserID(userID string) *ProfileBuilder {
	b.profile.UserID = userID
	return b
}

// Premium sets the paid tier.
func (b *ProfileBuilder) Premium() *ProfileBuilder {
	b.profile.Role = model.RolePremiumUser
	return b
}

// Build returns the built profile.
func (b *ProfileBuilder) Build() *model.UserProfile {
	cp := *b.profile
	return &cp
}
