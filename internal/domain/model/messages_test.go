package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionMessage_Validate(t *testing.T) {
	valid := func() *SubmissionMessage {
		return &SubmissionMessage{
			JobID:         "job-1",
			UserID:        "user-1",
			InputFileName: "sample.vcf",
			InputBucket:   "annex-inputs",
			InputKey:      "annex/user-1/sample.vcf",
			SubmitTime:    time.Now(),
			Status:        JobStatusPending,
		}
	}

	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*SubmissionMessage)
		errMsg string
	}{
		{"missing job id", func(m *SubmissionMessage) { m.JobID = "" }, "job_id value is required"},
		{"missing user id", func(m *SubmissionMessage) { m.UserID = " " }, "user_id value is required"},
		{"missing file name", func(m *SubmissionMessage) { m.InputFileName = "" }, "input_file_name value is required"},
		{"missing submit time", func(m *SubmissionMessage) { m.SubmitTime = time.Time{} }, "submit_time value is required"},
		{"invalid status", func(m *SubmissionMessage) { m.Status = "" }, "status value is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestSubmissionMessage_Record(t *testing.T) {
	m := &SubmissionMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		InputFileName: "sample.vcf",
		InputBucket:   "annex-inputs",
		InputKey:      "annex/user-1/sample.vcf",
		SubmitTime:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		// The record starts PENDING regardless of the message status.
		Status: JobStatusRunning,
	}

	rec := m.Record()
	assert.Equal(t, "job-1", rec.ID)
	assert.Equal(t, JobStatusPending, rec.Status)
	assert.True(t, m.SubmitTime.Equal(rec.SubmitTime))
	assert.NoError(t, rec.Validate())
}

func TestArchiveMessage_Validate(t *testing.T) {
	valid := ArchiveMessage{
		JobID:        "job-1",
		UserID:       "user-1",
		ResultBucket: "annex-results",
		ResultKey:    "annex/user-1/sample.annot.vcf",
		CompleteTime: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ResultKey = ""
	assert.EqualError(t, missing.Validate(), "result_key value is required")

	noTime := valid
	noTime.CompleteTime = time.Time{}
	assert.EqualError(t, noTime.Validate(), "complete_time value is required")
}

func TestThawMessage_Validate(t *testing.T) {
	valid := ThawMessage{RetrievalID: "retrieval-1", ArchiveID: "archive-1"}
	assert.NoError(t, valid.Validate())

	assert.EqualError(t, (&ThawMessage{ArchiveID: "archive-1"}).Validate(), "JobId value is required")
	assert.EqualError(t, (&ThawMessage{RetrievalID: "retrieval-1"}).Validate(), "ArchiveId value is required")
}

func TestDecodePayload(t *testing.T) {
	var m RestoreMessage
	require.NoError(t, DecodePayload([]byte(`{"user_id":"user-1"}`), &m))
	assert.Equal(t, "user-1", m.UserID)

	assert.Error(t, DecodePayload(nil, &m))
	assert.Error(t, DecodePayload([]byte("not json"), &m))
}
