// Package model defines the core data types used throughout the annex job system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the main processing status of an annotation job.
// Status only moves forward: PENDING -> RUNNING -> COMPLETED.
type JobStatus string

// ArchiveStatus represents the tiered-storage sub-status of a completed job.
// It is orthogonal to JobStatus and only meaningful once a job is COMPLETED.
type ArchiveStatus string

const (
	// JobStatusPending indicates a job has been submitted but not yet picked up.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates the annotation task has been started.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates the annotation task finished and results were uploaded.
	JobStatusCompleted JobStatus = "COMPLETED"

	// ArchiveStatusNone indicates the result lives in hot storage.
	ArchiveStatusNone ArchiveStatus = ""
	// ArchiveStatusArchived indicates the result was migrated to the cold tier.
	ArchiveStatusArchived ArchiveStatus = "ARCHIVED"
	// ArchiveStatusRestoring indicates a cold-tier retrieval has been initiated.
	ArchiveStatusRestoring ArchiveStatus = "RESTORING"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted
}

// rank orders statuses for monotonicity checks.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic state machine: one step forward, no regression, no skip.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return next.rank() == s.rank()+1
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses parse from env and wire payloads.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the ArchiveStatus is one of the known sub-states.
func (s ArchiveStatus) Valid() bool {
	return s == ArchiveStatusNone || s == ArchiveStatusArchived || s == ArchiveStatusRestoring
}

// AnnotationJob is the durable record of a single annotation job.
// The ID is an opaque string generated by the submitter; at most one
// record exists per ID.
type AnnotationJob struct {
	ID            string        `json:"job_id"                    db:"id"`
	UserID        string        `json:"user_id"                   db:"user_id"`
	InputFileName string        `json:"input_file_name"           db:"input_file_name"`
	InputBucket   string        `json:"input_bucket"              db:"input_bucket"`
	InputKey      string        `json:"input_key"                 db:"input_key"`
	SubmitTime    time.Time     `json:"submit_time"               db:"submit_time"`
	Status        JobStatus     `json:"status"                    db:"status"`
	CompleteTime  *time.Time    `json:"complete_time,omitempty"   db:"complete_time"`
	ResultBucket  *string       `json:"result_bucket,omitempty"   db:"result_bucket"`
	ResultKey     *string       `json:"result_key,omitempty"      db:"result_key"`
	LogKey        *string       `json:"log_key,omitempty"         db:"log_key"`
	ArchiveID     *string       `json:"archive_id,omitempty"      db:"archive_id"`
	ArchiveStatus ArchiveStatus `json:"archive_status,omitempty"  db:"archive_status"`
	CreatedAt     time.Time     `json:"created_at"                db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"                db:"updated_at"`
}

// Validate checks the record invariants that hold for any persisted job.
func (j *AnnotationJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(j.InputFileName) == "" {
		return errors.New("input file name is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status %q", j.Status)
	}
	if !j.ArchiveStatus.Valid() {
		return fmt.Errorf("invalid archive status %q", j.ArchiveStatus)
	}
	// Archive id is present if and only if an archive sub-status is set.
	if (j.ArchiveID != nil) != (j.ArchiveStatus != ArchiveStatusNone) {
		return errors.New("archive id and archive status must be set together")
	}
	return nil
}

// Archived reports whether the job's result currently lives in the cold tier.
func (j *AnnotationJob) Archived() bool {
	return j.ArchiveID != nil && j.ArchiveStatus == ArchiveStatusArchived
}

// AnnotationUpdate carries a partial update to an AnnotationJob record.
// Nil fields are left untouched. ClearArchive removes both archive
// fields together, returning the record to its pre-archive shape.
type AnnotationUpdate struct {
	Status        *JobStatus
	CompleteTime  *time.Time
	ResultBucket  *string
	ResultKey     *string
	LogKey        *string
	ArchiveID     *string
	ArchiveStatus *ArchiveStatus
	ClearArchive  bool
}

// Empty reports whether the update would change nothing.
func (u AnnotationUpdate) Empty() bool {
	return u.Status == nil && u.CompleteTime == nil && u.ResultBucket == nil &&
		u.ResultKey == nil && u.LogKey == nil && u.ArchiveID == nil &&
		u.ArchiveStatus == nil && !u.ClearArchive
}
