package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Wire payloads exchanged over the queues. Field names match the
// submitting front end and the cold-tier notification format, so they
// are fixed independently of the Go naming.

// SubmissionMessage announces a newly submitted job on the request queue.
type SubmissionMessage struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	InputFileName string    `json:"input_file_name"`
	InputBucket   string    `json:"input_bucket"`
	InputKey      string    `json:"input_key"`
	SubmitTime    time.Time `json:"submit_time"`
	Status        JobStatus `json:"status"`
}

// Validate checks that every required submission field is present.
func (m *SubmissionMessage) Validate() error {
	if err := requireFields(map[string]string{
		"job_id":          m.JobID,
		"user_id":         m.UserID,
		"input_file_name": m.InputFileName,
		"input_bucket":    m.InputBucket,
		"input_key":       m.InputKey,
	}); err != nil {
		return err
	}
	if m.SubmitTime.IsZero() {
		return fmt.Errorf("submit_time value is required")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("status value is required")
	}
	return nil
}

// Record builds the initial PENDING job record for a submission.
func (m *SubmissionMessage) Record() *AnnotationJob {
	return &AnnotationJob{
		ID:            m.JobID,
		UserID:        m.UserID,
		InputFileName: m.InputFileName,
		InputBucket:   m.InputBucket,
		InputKey:      m.InputKey,
		SubmitTime:    m.SubmitTime,
		Status:        JobStatusPending,
	}
}

// ArchiveMessage marks a completed free-tier result as archive-eligible.
type ArchiveMessage struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	ResultBucket string    `json:"result_bucket"`
	ResultKey    string    `json:"result_key"`
	CompleteTime time.Time `json:"complete_time"`
}

// Validate checks that every required archive-eligibility field is present.
func (m *ArchiveMessage) Validate() error {
	if err := requireFields(map[string]string{
		"job_id":        m.JobID,
		"user_id":       m.UserID,
		"result_bucket": m.ResultBucket,
		"result_key":    m.ResultKey,
	}); err != nil {
		return err
	}
	if m.CompleteTime.IsZero() {
		return fmt.Errorf("complete_time value is required")
	}
	return nil
}

// RestoreMessage is the subscription-upgrade trigger on the restore queue.
type RestoreMessage struct {
	UserID string `json:"user_id"`
}

// Validate checks that the upgrade trigger names a user.
func (m *RestoreMessage) Validate() error {
	return requireFields(map[string]string{"user_id": m.UserID})
}

// ThawMessage is pushed by the cold tier when a retrieval becomes ready.
// The job id travels in the archive description, recovered later from
// the retrieval output rather than trusted from this payload.
type ThawMessage struct {
	RetrievalID string `json:"JobId"`
	Description string `json:"JobDescription,omitempty"`
	ArchiveID   string `json:"ArchiveId"`
}

// Validate checks that the retrieval notification is addressable.
func (m *ThawMessage) Validate() error {
	return requireFields(map[string]string{
		"JobId":     m.RetrievalID,
		"ArchiveId": m.ArchiveID,
	})
}

// CompletionNotice is published for the external alerting collaborator
// whenever a job finishes.
type CompletionNotice struct {
	JobID     string `json:"job_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	UserRole  string `json:"user_role"`
}

// requireFields reports the first missing field by its wire name.
func requireFields(fields map[string]string) error {
	// Stable order keeps error messages deterministic for tests and logs.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return fmt.Errorf("%s value is required", name)
		}
	}
	return nil
}

// DecodePayload unmarshals a queue message body into dst.
func DecodePayload(body []byte, dst any) error {
	if len(body) == 0 {
		return fmt.Errorf("no JSON data provided")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
