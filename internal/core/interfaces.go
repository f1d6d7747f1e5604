// Package core defines the ports between the worker layer and the
// infrastructure adapters. Workers depend on these interfaces, never on
// a concrete queue, store, or vault implementation.
package core

import (
	"context"
	"io"
	"time"

	"github.com/arcovabio/annex/internal/domain/model"
)

// Message is a single delivery from a Queue. Body is an opaque payload;
// Token acknowledges exactly this delivery and is only valid until the
// message is redelivered.
type Message struct {
	Body  []byte
	Token string
}

// Queue is a durable, at-least-once delivery channel. Receive may
// return duplicates and makes no ordering guarantee. Delete must only
// be called once the corresponding state transition is durable, or the
// message has been classified as permanently unprocessable.
type Queue interface {
	// Receive long-polls for up to wait and returns zero or more messages.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete permanently removes the delivery identified by token.
	Delete(ctx context.Context, token string) error
	// Defer hides the delivery for delay, scheduling a later redelivery
	// without consuming it.
	Defer(ctx context.Context, token string, delay time.Duration) error
}

// Publisher fans a payload out to a named channel with at-least-once
// semantics. Fire-and-forget from the publisher's perspective.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// BlobStore is low-latency object storage for active inputs and results.
type BlobStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
}

// RetrievalTier selects the cold-tier retrieval service level.
type RetrievalTier string

const (
	// TierExpedited is the fast, costly retrieval tier.
	TierExpedited RetrievalTier = "Expedited"
	// TierStandard is the slow, cheap retrieval tier.
	TierStandard RetrievalTier = "Standard"
)

// Retrieval is the readable output of a completed cold-tier retrieval.
// Description round-trips the value passed to Store.
type Retrieval struct {
	Description string
	Body        io.ReadCloser
}

// ColdArchive is the high-latency storage tier. Stored bytes are not
// readable until a retrieval is initiated and, minutes to hours later,
// the tier pushes a readiness notification to the thaw queue.
type ColdArchive interface {
	// Store writes body to the cold tier and returns the archive id.
	// The description is durable metadata that survives the full
	// archive/retrieve round trip.
	Store(ctx context.Context, description string, body io.Reader) (string, error)
	// InitiateRetrieval starts an asynchronous retrieval of archiveID at
	// the given tier and returns the retrieval job id. It never waits
	// for the retrieval to finish.
	InitiateRetrieval(ctx context.Context, archiveID string, tier RetrievalTier) (string, error)
	// RetrievalOutput opens the output of a ready retrieval.
	RetrievalOutput(ctx context.Context, retrievalID string) (*Retrieval, error)
	// Delete removes an archive from the cold tier.
	Delete(ctx context.Context, archiveID string) error
}

// AnnotationRepository is the durable per-job record store. It is a
// conditional map, not a state machine: transition enforcement lives in
// the workers.
type AnnotationRepository interface {
	// Create conditionally inserts a record. It returns an ErrJobActive
	// conflict if a record with the same id is already RUNNING or
	// COMPLETED; callers treat that as an idempotent no-op.
	Create(ctx context.Context, rec *model.AnnotationJob) error
	// Update merges the non-nil fields of upd into the existing record.
	Update(ctx context.Context, id string, upd model.AnnotationUpdate) error
	// Transition merges upd and advances status from -> to in one
	// statement, guarded on the record still holding from. A failed
	// guard returns a conflict; a missing record returns not found.
	Transition(ctx context.Context, id string, from, to model.JobStatus, upd model.AnnotationUpdate) error
	GetByID(ctx context.Context, id string) (*model.AnnotationJob, error)
	// ListByUser returns all records for a user via the secondary index.
	ListByUser(ctx context.Context, userID string) ([]*model.AnnotationJob, error)
}

// ProfileService looks up and mutates user profiles. Tier decisions in
// the pipeline always take a fresh read.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error
}

// StartTaskParams describes one invocation of the external annotation task.
type StartTaskParams struct {
	JobID     string
	InputPath string
}

// TaskResult reports how an annotation task ended and where it left its
// artifacts on local disk.
type TaskResult struct {
	JobID      string
	ResultPath string
	LogPath    string
	FinishedAt time.Time
	Err        error
}

// TaskHandle tracks a started annotation task. Done delivers exactly one
// TaskResult when the task exits.
type TaskHandle interface {
	Done() <-chan TaskResult
}

// TaskRunner starts the external annotation task asynchronously. The
// returned handle is the only completion signal; there is no polling.
type TaskRunner interface {
	Start(ctx context.Context, params StartTaskParams) (TaskHandle, error)
}
