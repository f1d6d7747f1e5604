// Package data contains the Postgres and Redis adapters backing the
// core ports.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/arcovabio/annex/internal/errors"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
)

// ErrJobActive is returned by Create when a record with the same id is
// already RUNNING or COMPLETED. Callers treat it as an idempotent no-op.
var ErrJobActive = errors.New("job already active")

// AnnotationRepo provides Postgres-backed storage for annotation job records.
type AnnotationRepo struct {
	DB *sql.DB
}

var _ core.AnnotationRepository = (*AnnotationRepo)(nil)

// NewAnnotationRepo creates an AnnotationRepo on the given connection.
func NewAnnotationRepo(db *sql.DB) *AnnotationRepo {
	return &AnnotationRepo{DB: db}
}

const annotationColumns = `
  id,
  user_id,
  input_file_name,
  input_bucket,
  input_key,
  submit_time,
  status,
  complete_time,
  result_bucket,
  result_key,
  log_key,
  archive_id,
  archive_status,
  created_at,
  updated_at
`

// Create conditionally inserts a job record. A duplicate id whose
// existing record is still PENDING is refreshed in place (duplicate
// submission before pickup); a duplicate whose record is RUNNING or
// COMPLETED returns ErrJobActive.
func (r *AnnotationRepo) Create(ctx context.Context, rec *model.AnnotationJob) error {
	if rec == nil {
		return apperrors.Validation("annotation record is required")
	}
	if err := rec.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid annotation record")
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO annotations (id, user_id, input_file_name, input_bucket, input_key, submit_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			input_file_name = EXCLUDED.input_file_name,
			input_bucket = EXCLUDED.input_bucket,
			input_key = EXCLUDED.input_key,
			submit_time = EXCLUDED.submit_time,
			updated_at = now()
		WHERE annotations.status = 'PENDING'
		RETURNING id`,
		rec.ID, rec.UserID, rec.InputFileName, rec.InputBucket, rec.InputKey,
		rec.SubmitTime, rec.Status,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The conflicting record has moved past PENDING.
			return apperrors.Wrapf(ErrJobActive, apperrors.ErrCodeConflict,
				"job %s already active", rec.ID)
		}
		return apperrors.MapDBError(fmt.Errorf("insert annotation: %w", err))
	}
	return nil
}

// Update merges the non-nil fields of upd into the record. The store
// does not enforce the state machine; callers own transition legality.
func (r *AnnotationRepo) Update(ctx context.Context, id string, upd model.AnnotationUpdate) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.Validation("job id is required")
	}
	if upd.Empty() {
		return nil
	}

	set, args := buildAnnotationSet(upd)
	args = append(args, id)

	query := fmt.Sprintf(
		`UPDATE annotations SET %s, updated_at = now() WHERE id = $%d`,
		strings.Join(set, ", "), len(args),
	)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update annotation: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update annotation rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("annotation %s not found", id)
	}
	return nil
}

// Transition advances status from -> to and merges upd in one guarded
// statement. A record that has already moved past from yields a
// conflict, which is how duplicate deliveries surface.
func (r *AnnotationRepo) Transition(
	ctx context.Context,
	id string,
	from, to model.JobStatus,
	upd model.AnnotationUpdate,
) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.Validation("job id is required")
	}
	if !from.CanTransitionTo(to) {
		return apperrors.Validationf("illegal transition %s -> %s", from, to)
	}

	upd.Status = &to
	set, args := buildAnnotationSet(upd)
	args = append(args, id, from)

	query := fmt.Sprintf(
		`UPDATE annotations SET %s, updated_at = now() WHERE id = $%d AND status = $%d`,
		strings.Join(set, ", "), len(args)-1, len(args),
	)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("transition annotation: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition annotation rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return apperrors.Conflictf("annotation %s is not %s", id, from)
	}
	return nil
}

// buildAnnotationSet renders the SET clause for a partial update.
func buildAnnotationSet(upd model.AnnotationUpdate) ([]string, []any) {
	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.CompleteTime != nil {
		add("complete_time", *upd.CompleteTime)
	}
	if upd.ResultBucket != nil {
		add("result_bucket", *upd.ResultBucket)
	}
	if upd.ResultKey != nil {
		add("result_key", *upd.ResultKey)
	}
	if upd.LogKey != nil {
		add("log_key", *upd.LogKey)
	}
	if upd.ClearArchive {
		set = append(set, "archive_id = NULL", "archive_status = NULL")
	} else {
		if upd.ArchiveID != nil {
			add("archive_id", *upd.ArchiveID)
		}
		if upd.ArchiveStatus != nil {
			add("archive_status", string(*upd.ArchiveStatus))
		}
	}
	return set, args
}

// GetByID fetches a single job record by its id.
func (r *AnnotationRepo) GetByID(ctx context.Context, id string) (*model.AnnotationJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("job id is required")
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE id = $1`, id)
	rec, err := scanAnnotation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("annotation %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get annotation: %w", err))
	}
	return rec, nil
}

// ListByUser returns every job record owned by userID, newest first.
func (r *AnnotationRepo) ListByUser(ctx context.Context, userID string) ([]*model.AnnotationJob, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.Validation("user id is required")
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE user_id = $1 ORDER BY submit_time DESC`,
		userID)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list annotations: %w", err))
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []*model.AnnotationJob
	for rows.Next() {
		rec, scanErr := scanAnnotation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan annotation: %w", scanErr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list annotations: %w", err))
	}
	return out, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*model.AnnotationJob, error) {
	var (
		rec           model.AnnotationJob
		archiveStatus sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.InputFileName,
		&rec.InputBucket,
		&rec.InputKey,
		&rec.SubmitTime,
		&rec.Status,
		&rec.CompleteTime,
		&rec.ResultBucket,
		&rec.ResultKey,
		&rec.LogKey,
		&rec.ArchiveID,
		&archiveStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if archiveStatus.Valid {
		rec.ArchiveStatus = model.ArchiveStatus(archiveStatus.String)
	}
	return &rec, nil
}
