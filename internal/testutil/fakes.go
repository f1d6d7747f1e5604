package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/data"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
)

// In-memory fakes for the core ports. They model the semantics the
// workers rely on - at-least-once delivery, conditional create,
// description round-tripping - without any network.

// FakeQueue is an in-memory core.Queue. Received messages move to an
// in-flight set until deleted; Redeliver puts one back to simulate a
// duplicate delivery.
type FakeQueue struct {
	mu       sync.Mutex
	ready    []core.Message
	inflight map[string]core.Message
	deferred map[string]time.Duration
	deleted  []string

	// ReceiveErr, when set, fails the next Receive call.
	ReceiveErr error
}

var _ core.Queue = (*FakeQueue)(nil)

// NewFakeQueue creates an empty FakeQueue.
func NewFakeQueue() *FakeQueue {
	return &FakeQueue{
		inflight: make(map[string]core.Message),
		deferred: make(map[string]time.Duration),
	}
}

// Push enqueues a payload and returns its delivery token.
func (q *FakeQueue) Push(body []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	token := uuid.NewString()
	q.ready = append(q.ready, core.Message{Body: body, Token: token})
	return token
}

// Receive returns up to max ready messages without waiting.
func (q *FakeQueue) Receive(_ context.Context, max int, _ time.Duration) ([]core.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ReceiveErr != nil {
		err := q.ReceiveErr
		q.ReceiveErr = nil
		return nil, err
	}

	n := max
	if n > len(q.ready) {
		n = len(q.ready)
	}
	out := make([]core.Message, n)
	copy(out, q.ready[:n])
	for _, m := range out {
		q.inflight[m.Token] = m
	}
	q.ready = q.ready[n:]
	return out, nil
}

// Delete acknowledges an in-flight delivery.
func (q *FakeQueue) Delete(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, token)
	q.deleted = append(q.deleted, token)
	return nil
}

// Defer records the delay and makes the delivery ready again.
func (q *FakeQueue) Defer(_ context.Context, token string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[token]
	if !ok {
		return nil
	}
	delete(q.inflight, token)
	q.deferred[token] = delay
	q.ready = append(q.ready, m)
	return nil
}

// Redeliver moves an in-flight delivery back to ready, simulating a
// visibility timeout.
func (q *FakeQueue) Redeliver(token string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.inflight[token]; ok {
		delete(q.inflight, token)
		q.ready = append(q.ready, m)
	}
}

// Deleted reports whether the delivery was acknowledged.
func (q *FakeQueue) Deleted(token string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range q.deleted {
		if d == token {
			return true
		}
	}
	return false
}

// DeferredDelay returns the last delay recorded for a deferred token.
func (q *FakeQueue) DeferredDelay(token string) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.deferred[token]
	return d, ok
}

// ReadyLen reports how many deliveries are waiting.
func (q *FakeQueue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// PublishedMessage is one payload recorded by FakePublisher.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// FakePublisher records every published payload.
type FakePublisher struct {
	mu        sync.Mutex
	published []PublishedMessage

	// PublishErr, when set, fails every Publish call.
	PublishErr error
}

var _ core.Publisher = (*FakePublisher)(nil)

// NewFakePublisher creates an empty FakePublisher.
func NewFakePublisher() *FakePublisher { return &FakePublisher{} }

// Publish records the payload.
func (p *FakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishErr != nil {
		return p.PublishErr
	}
	p.published = append(p.published, PublishedMessage{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Published returns every recorded payload for a topic.
func (p *FakePublisher) Published(topic string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedMessage
	for _, m := range p.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// FakeBlobStore is an in-memory core.BlobStore keyed by bucket and key.
type FakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// GetErr / PutErr, when set, fail the corresponding calls.
	GetErr error
	PutErr error
}

var _ core.BlobStore = (*FakeBlobStore)(nil)

// NewFakeBlobStore creates an empty FakeBlobStore.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{objects: make(map[string][]byte)}
}

func blobKey(bucket, key string) string { return bucket + "/" + key }

// Get opens a stored object for reading.
func (s *FakeBlobStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	b, ok := s.objects[blobKey(bucket, key)]
	if !ok {
		return nil, apperrors.NotFoundf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), b...))), nil
}

// Put stores an object.
func (s *FakeBlobStore) Put(_ context.Context, bucket, key string, body io.Reader) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[blobKey(bucket, key)] = b
	return nil
}

// Delete removes an object; deleting a missing object is a no-op.
func (s *FakeBlobStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, blobKey(bucket, key))
	return nil
}

// PutBytes stores raw bytes directly.
func (s *FakeBlobStore) PutBytes(bucket, key string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[blobKey(bucket, key)] = append([]byte(nil), b...)
}

// GetBytes returns a stored object's bytes, if present.
func (s *FakeBlobStore) GetBytes(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[blobKey(bucket, key)]
	return b, ok
}

// Exists reports whether the object is present.
func (s *FakeBlobStore) Exists(bucket, key string) bool {
	_, ok := s.GetBytes(bucket, key)
	return ok
}

// fakeArchive is one stored cold-tier object.
type fakeArchive struct {
	description string
	data        []byte
}

// FakeColdArchive is an in-memory core.ColdArchive. Retrievals become
// ready immediately; the description round-trips like the real tier,
// and retrieval output is a snapshot that outlives archive deletion.
type FakeColdArchive struct {
	mu         sync.Mutex
	archives   map[string]fakeArchive
	retrievals map[string]fakeArchive // retrieval id -> snapshot

	// FailExpedited makes expedited InitiateRetrieval calls fail,
	// forcing the standard-tier fallback.
	FailExpedited bool
	// StoreErr, when set, fails Store calls.
	StoreErr error

	// InitiatedTiers records the tier of every InitiateRetrieval call.
	InitiatedTiers []core.RetrievalTier
}

var _ core.ColdArchive = (*FakeColdArchive)(nil)

// NewFakeColdArchive creates an empty FakeColdArchive.
func NewFakeColdArchive() *FakeColdArchive {
	return &FakeColdArchive{
		archives:   make(map[string]fakeArchive),
		retrievals: make(map[string]fakeArchive),
	}
}

// Store writes an archive and returns its generated id.
func (a *FakeColdArchive) Store(_ context.Context, description string, body io.Reader) (string, error) {
	if a.StoreErr != nil {
		return "", a.StoreErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	a.archives[id] = fakeArchive{description: description, data: b}
	return id, nil
}

// InitiateRetrieval starts a retrieval that is immediately ready.
func (a *FakeColdArchive) InitiateRetrieval(_ context.Context, archiveID string, tier core.RetrievalTier) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InitiatedTiers = append(a.InitiatedTiers, tier)
	if a.FailExpedited && tier == core.TierExpedited {
		return "", apperrors.Internal("expedited capacity unavailable")
	}
	arch, ok := a.archives[archiveID]
	if !ok {
		return "", apperrors.NotFoundf("archive %s not found", archiveID)
	}
	id := uuid.NewString()
	a.retrievals[id] = arch
	return id, nil
}

// RetrievalOutput opens a ready retrieval.
func (a *FakeColdArchive) RetrievalOutput(_ context.Context, retrievalID string) (*core.Retrieval, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	arch, ok := a.retrievals[retrievalID]
	if !ok {
		return nil, apperrors.NotFoundf("retrieval %s not found", retrievalID)
	}
	return &core.Retrieval{
		Description: arch.description,
		Body:        io.NopCloser(bytes.NewReader(append([]byte(nil), arch.data...))),
	}, nil
}

// Delete removes an archive.
func (a *FakeColdArchive) Delete(_ context.Context, archiveID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.archives, archiveID)
	return nil
}

// HasArchive reports whether the archive is still stored.
func (a *FakeColdArchive) HasArchive(archiveID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.archives[archiveID]
	return ok
}

// Retrievals returns every retrieval id issued so far.
func (a *FakeColdArchive) Retrievals() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.retrievals))
	for id := range a.retrievals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FakeAnnotationRepo is an in-memory core.AnnotationRepository with the
// same conditional-create and guarded-transition semantics as the
// Postgres implementation.
type FakeAnnotationRepo struct {
	mu      sync.Mutex
	records map[string]*model.AnnotationJob
}

var _ core.AnnotationRepository = (*FakeAnnotationRepo)(nil)

// NewFakeAnnotationRepo creates an empty FakeAnnotationRepo.
func NewFakeAnnotationRepo() *FakeAnnotationRepo {
	return &FakeAnnotationRepo{records: make(map[string]*model.AnnotationJob)}
}

// Create conditionally inserts a record.
func (r *FakeAnnotationRepo) Create(_ context.Context, rec *model.AnnotationJob) error {
	if rec == nil {
		return apperrors.Validation("annotation record is required")
	}
	if err := rec.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid annotation record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.ID]; ok && existing.Status != model.JobStatusPending {
		return apperrors.Wrapf(data.ErrJobActive, apperrors.ErrCodeConflict,
			"job %s already active", rec.ID)
	}
	cp := *rec
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.records[rec.ID] = &cp
	return nil
}

// Update merges the non-nil fields of upd into the record.
func (r *FakeAnnotationRepo) Update(_ context.Context, id string, upd model.AnnotationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperrors.NotFoundf("annotation %s not found", id)
	}
	applyUpdate(rec, upd)
	return nil
}

// Transition advances status from -> to under the same-status guard.
func (r *FakeAnnotationRepo) Transition(
	_ context.Context,
	id string,
	from, to model.JobStatus,
	upd model.AnnotationUpdate,
) error {
	if !from.CanTransitionTo(to) {
		return apperrors.Validationf("illegal transition %s -> %s", from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperrors.NotFoundf("annotation %s not found", id)
	}
	if rec.Status != from {
		return apperrors.Conflictf("annotation %s is not %s", id, from)
	}
	rec.Status = to
	applyUpdate(rec, upd)
	return nil
}

func applyUpdate(rec *model.AnnotationJob, upd model.AnnotationUpdate) {
	if upd.CompleteTime != nil {
		rec.CompleteTime = upd.CompleteTime
	}
	if upd.ResultBucket != nil {
		rec.ResultBucket = upd.ResultBucket
	}
	if upd.ResultKey != nil {
		rec.ResultKey = upd.ResultKey
	}
	if upd.LogKey != nil {
		rec.LogKey = upd.LogKey
	}
	if upd.ClearArchive {
		rec.ArchiveID = nil
		rec.ArchiveStatus = model.ArchiveStatusNone
	} else {
		if upd.ArchiveID != nil {
			rec.ArchiveID = upd.ArchiveID
		}
		if upd.ArchiveStatus != nil {
			rec.ArchiveStatus = *upd.ArchiveStatus
		}
	}
	rec.UpdatedAt = time.Now().UTC()
}

// GetByID fetches a copy of the record.
func (r *FakeAnnotationRepo) GetByID(_ context.Context, id string) (*model.AnnotationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFoundf("annotation %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// ListByUser returns copies of every record owned by userID, newest first.
func (r *FakeAnnotationRepo) ListByUser(_ context.Context, userID string) ([]*model.AnnotationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AnnotationJob
	for _, rec := range r.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmitTime.After(out[j].SubmitTime)
	})
	return out, nil
}

// Put stores a record directly, bypassing Create's guard.
func (r *FakeAnnotationRepo) Put(rec *model.AnnotationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
}

// FakeProfileService is an in-memory core.ProfileService.
type FakeProfileService struct {
	mu       sync.Mutex
	profiles map[string]*model.UserProfile

	// GetErr, when set, fails every GetProfile call.
	GetErr error
}

var _ core.ProfileService = (*FakeProfileService)(nil)

// NewFakeProfileService creates an empty FakeProfileService.
func NewFakeProfileService() *FakeProfileService {
	return &FakeProfileService{profiles: make(map[string]*model.UserProfile)}
}

// Put stores a profile directly.
func (s *FakeProfileService) Put(p *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
}

// GetProfile fetches a copy of the profile.
func (s *FakeProfileService) GetProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperrors.NotFoundf("profile %s not found", userID)
	}
	cp := *p
	return &cp, nil
}

// UpdateProfile merges the non-nil fields of upd into the profile.
func (s *FakeProfileService) UpdateProfile(_ context.Context, userID string, upd model.ProfileUpdate) error {
	if err := upd.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid profile update")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return apperrors.NotFoundf("profile %s not found", userID)
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.Role != nil {
		p.Role = *upd.Role
	}
	return nil
}

// FakeTaskHandle is a completable core.TaskHandle.
type FakeTaskHandle struct {
	done chan core.TaskResult
}

// Done returns the completion channel.
func (h *FakeTaskHandle) Done() <-chan core.TaskResult { return h.done }

// Complete delivers the task's result.
func (h *FakeTaskHandle) Complete(res core.TaskResult) { h.done <- res }

// FakeTaskRunner records started tasks and lets tests complete them.
type FakeTaskRunner struct {
	mu      sync.Mutex
	started []core.StartTaskParams
	handles map[string]*FakeTaskHandle

	// StartErr, when set, fails every Start call.
	StartErr error
}

var _ core.TaskRunner = (*FakeTaskRunner)(nil)

// NewFakeTaskRunner creates an empty FakeTaskRunner.
func NewFakeTaskRunner() *FakeTaskRunner {
	return &FakeTaskRunner{handles: make(map[string]*FakeTaskHandle)}
}

// Start records the task and returns its handle.
func (r *FakeTaskRunner) Start(_ context.Context, params core.StartTaskParams) (core.TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	h := &FakeTaskHandle{done: make(chan core.TaskResult, 1)}
	r.started = append(r.started, params)
	r.handles[params.JobID] = h
	return h, nil
}

// Started returns every recorded start.
func (r *FakeTaskRunner) Started() []core.StartTaskParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.StartTaskParams, len(r.started))
	copy(out, r.started)
	return out
}

// Handle returns the handle for a started job.
func (r *FakeTaskRunner) Handle(jobID string) (*FakeTaskHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	return h, ok
}
