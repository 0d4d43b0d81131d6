package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/feedback-service/internal/domain"
)

const feedbackColumns = `id, category, feedback_type, department, description, rating, impact_severity,
       is_anonymous, contact_name, contact_email, contact_phone, sentiment, sentiment_status,
       sentiment_attempts, sentiment_error, status, dept_status, report_details, report_created_at,
       final_action_description, revision_notes, admin_notes, action_history, created_at, updated_at`

type postgresFeedbackRepository struct {
	pool      *pgxpool.Pool
	partition domain.Partition
	table     string
}

// NewPostgresFeedbackRepository stores one partition in its own table.
func NewPostgresFeedbackRepository(pool *pgxpool.Pool, partition domain.Partition) FeedbackRepository {
	return &postgresFeedbackRepository{pool: pool, partition: partition, table: PostgresTable(partition)}
}

// PostgresTable returns the table backing a partition.
func PostgresTable(p domain.Partition) string {
	if p == domain.PartitionInternal {
		return "internal_feedback"
	}
	return "external_feedback"
}

func (r *postgresFeedbackRepository) Partition() domain.Partition { return r.partition }

func (r *postgresFeedbackRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresFeedbackRepository) Create(ctx context.Context, rec *domain.FeedbackRecord) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (id, category, feedback_type, department, description, rating, impact_severity,
            is_anonymous, contact_name, contact_email, contact_phone, sentiment, sentiment_status,
            sentiment_attempts, sentiment_error, status, dept_status, action_history, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`, r.table)
	history := rec.ActionHistory
	if history == nil {
		history = []domain.AuditEntry{}
	}
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Category,
		rec.FeedbackType,
		rec.Department,
		rec.Description,
		rec.Rating,
		rec.ImpactSeverity,
		rec.IsAnonymous,
		rec.Contact.Name,
		rec.Contact.Email,
		rec.Contact.Phone,
		rec.Sentiment,
		rec.SentimentStatus,
		rec.SentimentAttempts,
		rec.SentimentError,
		rec.Status,
		rec.DeptStatus,
		history,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (r *postgresFeedbackRepository) GetByID(ctx context.Context, id string) (*domain.FeedbackRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, feedbackColumns, r.table)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *postgresFeedbackRepository) List(ctx context.Context, filter Filter) ([]domain.FeedbackRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.States != nil {
		if len(filter.States) == 0 {
			return nil, nil
		}
		pairs := make([]string, len(filter.States))
		for i, s := range filter.States {
			args = append(args, s.Status(), string(s.DeptStatus()))
			pairs[i] = fmt.Sprintf("($%d,$%d)", len(args)-1, len(args))
		}
		clauses = append(clauses, fmt.Sprintf("(status, COALESCE(dept_status, '')) IN (%s)", strings.Join(pairs, ",")))
	}
	if filter.Department != nil {
		args = append(args, *filter.Department)
		clauses = append(clauses, fmt.Sprintf("department=$%d", len(args)))
	}
	if filter.Sentiment != nil {
		args = append(args, *filter.Sentiment)
		clauses = append(clauses, fmt.Sprintf("sentiment=$%d", len(args)))
	}
	if filter.SentimentStatus != nil {
		args = append(args, *filter.SentimentStatus)
		clauses = append(clauses, fmt.Sprintf("sentiment_status=$%d", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, id ASC", feedbackColumns, r.table, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.queryRecords(ctx, query, args...)
}

func (r *postgresFeedbackRepository) ApplyTransition(ctx context.Context, id string, from domain.State, patch TransitionPatch, entry domain.AuditEntry) (bool, error) {
	args := []any{patch.To.Status(), patch.To.DeptStatus().Ptr(), patch.UpdatedAt, []domain.AuditEntry{entry}}
	sets := []string{"status=$1", "dept_status=$2", "updated_at=$3", "action_history = action_history || $4::jsonb"}

	optional := []struct {
		column string
		value  any
		set    bool
	}{
		{"department", patch.Department, patch.Department != nil},
		{"report_details", patch.ReportDetails, patch.ReportDetails != nil},
		{"report_created_at", patch.ReportCreatedAt, patch.ReportCreatedAt != nil},
		{"final_action_description", patch.FinalActionDescription, patch.FinalActionDescription != nil},
		{"revision_notes", patch.RevisionNotes, patch.RevisionNotes != nil},
		{"admin_notes", patch.AdminNotes, patch.AdminNotes != nil},
	}
	for _, field := range optional {
		if !field.set {
			continue
		}
		args = append(args, field.value)
		sets = append(sets, fmt.Sprintf("%s=$%d", field.column, len(args)))
	}

	args = append(args, id, from.Status(), from.DeptStatus().Ptr())
	n := len(args)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d AND status=$%d AND dept_status IS NOT DISTINCT FROM $%d`,
		r.table, strings.Join(sets, ", "), n-2, n-1, n)

	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresFeedbackRepository) ApplyEdit(ctx context.Context, id string, patch EditPatch, entry domain.AuditEntry) (bool, error) {
	args := []any{patch.UpdatedAt, []domain.AuditEntry{entry}}
	sets := []string{"updated_at=$1", "action_history = action_history || $2::jsonb"}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.FeedbackType != nil {
		add("feedback_type", *patch.FeedbackType)
	}
	if patch.Department != nil {
		add("department", *patch.Department)
	}
	if patch.ReportDetails != nil {
		add("report_details", *patch.ReportDetails)
	}
	if patch.Sentiment != nil {
		add("sentiment", *patch.Sentiment)
		sets = append(sets, "sentiment_status='completed'", "sentiment_error=NULL")
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d AND (dept_status IS NULL OR dept_status NOT IN ('approved','no_action_needed'))`,
		r.table, strings.Join(sets, ", "), len(args))
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresFeedbackRepository) ListRetryEligible(ctx context.Context, maxAttempts, limit int) ([]domain.FeedbackRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE sentiment_status='pending' AND sentiment_attempts < $1
        ORDER BY created_at ASC, id ASC LIMIT $2`, feedbackColumns, r.table)
	return r.queryRecords(ctx, query, maxAttempts, limit)
}

func (r *postgresFeedbackRepository) CompleteSentiment(ctx context.Context, id string, sentiment domain.Sentiment, at time.Time) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET sentiment=$1, sentiment_status='completed',
            sentiment_attempts=sentiment_attempts+1, sentiment_error=NULL, updated_at=$2
        WHERE id=$3 AND sentiment_status='pending'`, r.table)
	cmd, err := r.pool.Exec(ctx, query, sentiment, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresFeedbackRepository) RecordSentimentFailure(ctx context.Context, id string, reason string, maxAttempts int, at time.Time) (SentimentFailure, error) {
	query := fmt.Sprintf(`UPDATE %s SET sentiment_attempts=sentiment_attempts+1,
            sentiment_status=CASE WHEN sentiment_attempts+1 >= $1 THEN 'failed' ELSE 'pending' END,
            sentiment_error=$2, updated_at=$3
        WHERE id=$4 AND sentiment_status='pending'
        RETURNING sentiment_attempts, sentiment_status`, r.table)
	var out SentimentFailure
	err := r.pool.QueryRow(ctx, query, maxAttempts, reason, at, id).Scan(&out.Attempts, &out.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return SentimentFailure{}, ErrNotFound
	}
	return out, err
}

func (r *postgresFeedbackRepository) queryRecords(ctx context.Context, query string, args ...any) ([]domain.FeedbackRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FeedbackRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.FeedbackRecord, error) {
	var rec domain.FeedbackRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Category,
		&rec.FeedbackType,
		&rec.Department,
		&rec.Description,
		&rec.Rating,
		&rec.ImpactSeverity,
		&rec.IsAnonymous,
		&rec.Contact.Name,
		&rec.Contact.Email,
		&rec.Contact.Phone,
		&rec.Sentiment,
		&rec.SentimentStatus,
		&rec.SentimentAttempts,
		&rec.SentimentError,
		&rec.Status,
		&rec.DeptStatus,
		&rec.ReportDetails,
		&rec.ReportCreatedAt,
		&rec.FinalActionDescription,
		&rec.RevisionNotes,
		&rec.AdminNotes,
		&rec.ActionHistory,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
