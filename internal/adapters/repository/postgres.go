package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const meetingTable = `
CREATE TABLE IF NOT EXISTS %s (
	id                   BIGSERIAL PRIMARY KEY,
	meeting_key          TEXT,
	meeting_id           TEXT,
	conference_record_id TEXT,
	recurring_event_id   TEXT,
	meeting_type         TEXT NOT NULL,
	summary              TEXT,
	start_time           TIMESTAMPTZ,
	end_time             TIMESTAMPTZ,
	timezone             TEXT,
	organizer_email      TEXT,
	hangout_link         TEXT,
	employee_email       TEXT NOT NULL,
	recurrence           JSONB NOT NULL DEFAULT '[]',
	recurrence_frequency TEXT,
	invitees             JSONB NOT NULL DEFAULT '[]',
	participants         JSONB NOT NULL DEFAULT '[]',
	transcripts          JSONB NOT NULL DEFAULT '[]',
	batch_id             BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const runTable = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id                     BIGINT PRIMARY KEY,
	batch_name             TEXT NOT NULL,
	kind                   TEXT NOT NULL,
	status                 TEXT NOT NULL,
	start_time             TIMESTAMPTZ NOT NULL,
	end_time               TIMESTAMPTZ,
	total_users            INT NOT NULL DEFAULT 0,
	successful_users       INT NOT NULL DEFAULT 0,
	failed_users           INT NOT NULL DEFAULT 0,
	failed_user_emails     JSONB NOT NULL DEFAULT '[]',
	failure_reasons        JSONB NOT NULL DEFAULT '{}',
	successful_user_emails JSONB NOT NULL DEFAULT '[]',
	records_processed      INT NOT NULL DEFAULT 0,
	error_message          TEXT,
	last_successful_at     TIMESTAMPTZ
);`

// Schema returns the DDL for the meeting and audit tables. Each meeting
// table owns its sequence so a scheduled refresh never resets completed ids.
func Schema() []string {
	return []string{
		fmt.Sprintf(meetingTable, "scheduled_meetings"),
		fmt.Sprintf(meetingTable, "completed_meetings"),
		`CREATE UNIQUE INDEX IF NOT EXISTS completed_meetings_meeting_key ON completed_meetings (meeting_key)`,
		`CREATE INDEX IF NOT EXISTS scheduled_meetings_meeting_key ON scheduled_meetings (meeting_key)`,
		runTable,
		`CREATE INDEX IF NOT EXISTS batch_runs_name_start ON batch_runs (batch_name, start_time DESC)`,
	}
}

const meetingColumns = `meeting_key, meeting_id, conference_record_id, recurring_event_id, meeting_type,
	summary, start_time, end_time, timezone, organizer_email, hangout_link, employee_email,
	recurrence, recurrence_frequency, invitees, participants, transcripts, batch_id`

const insertScheduled = `INSERT INTO scheduled_meetings (` + meetingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const upsertCompleted = `INSERT INTO completed_meetings (` + meetingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (meeting_key) DO UPDATE SET
		meeting_id = EXCLUDED.meeting_id,
		conference_record_id = EXCLUDED.conference_record_id,
		recurring_event_id = EXCLUDED.recurring_event_id,
		meeting_type = EXCLUDED.meeting_type,
		summary = EXCLUDED.summary,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		timezone = EXCLUDED.timezone,
		organizer_email = EXCLUDED.organizer_email,
		hangout_link = EXCLUDED.hangout_link,
		employee_email = EXCLUDED.employee_email,
		recurrence = EXCLUDED.recurrence,
		recurrence_frequency = EXCLUDED.recurrence_frequency,
		invitees = EXCLUDED.invitees,
		participants = EXCLUDED.participants,
		transcripts = EXCLUDED.transcripts,
		batch_id = EXCLUDED.batch_id,
		updated_at = now()`

const runColumns = `id, batch_name, kind, status, start_time, end_time, total_users, successful_users,
	failed_users, failed_user_emails, failure_reasons, successful_user_emails, records_processed,
	error_message, last_successful_at`

// Postgres implements MeetingStore and RunStore on a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewPostgres connects to connString and pings the database.
func NewPostgres(ctx context.Context, connString string, opts ...Option) (*Postgres, error) {
	if connString == "" {
		return nil, fmt.Errorf("%w: database url not configured", ErrPersistence)
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %v", ErrPersistence, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrPersistence, err)
	}
	o := applyOptions("repository", opts)
	return &Postgres{pool: pool, logger: o.logger}, nil
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.inTx(ctx, "migrate", func(tx pgx.Tx) error {
		for _, stmt := range Schema() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) ReplaceScheduled(ctx context.Context, records []model.MeetingRecord) error {
	return p.inTx(ctx, "replace scheduled", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE TABLE scheduled_meetings RESTART IDENTITY`); err != nil {
			return err
		}
		return sendMeetings(ctx, tx, insertScheduled, records)
	})
}

func (p *Postgres) UpsertCompleted(ctx context.Context, records []model.MeetingRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.inTx(ctx, "upsert completed", func(tx pgx.Tx) error {
		return sendMeetings(ctx, tx, upsertCompleted, records)
	})
}

func (p *Postgres) ExistingKeys(ctx context.Context, kind model.Kind, keys []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(keys) == 0 {
		return out, nil
	}
	query := `SELECT meeting_key FROM ` + tableFor(kind) + ` WHERE meeting_key = ANY($1)`
	rows, err := p.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: existing keys: %v", ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: existing keys scan: %v", ErrPersistence, err)
		}
		out[k] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: existing keys: %v", ErrPersistence, err)
	}
	return out, nil
}

func (p *Postgres) Count(ctx context.Context, kind model.Kind) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM `+tableFor(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrPersistence, err)
	}
	return n, nil
}

func (p *Postgres) CreateRun(ctx context.Context, run *model.BatchRun) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	query := `INSERT INTO batch_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: create run: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) CompleteRun(ctx context.Context, run *model.BatchRun) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	query := `UPDATE batch_runs SET batch_name = $2, kind = $3, status = $4, start_time = $5, end_time = $6,
		total_users = $7, successful_users = $8, failed_users = $9, failed_user_emails = $10,
		failure_reasons = $11, successful_user_emails = $12, records_processed = $13,
		error_message = $14, last_successful_at = $15
		WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: complete run: %v", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %d", ErrRunNotFound, run.ID)
	}
	return nil
}

func (p *Postgres) LastRun(ctx context.Context, batchName string) (*model.BatchRun, error) {
	query := `SELECT ` + runColumns + ` FROM batch_runs WHERE batch_name = $1 ORDER BY start_time DESC, id DESC LIMIT 1`

	var (
		run                             model.BatchRun
		kind, status                    string
		endTime, lastSuccess            *time.Time
		errorMessage                    *string
		failedJSON, reasonsJSON, okJSON []byte
	)
	err := p.pool.QueryRow(ctx, query, batchName).Scan(
		&run.ID, &run.BatchName, &kind, &status, &run.StartTime, &endTime,
		&run.TotalUsers, &run.SuccessfulUsers, &run.FailedUsers,
		&failedJSON, &reasonsJSON, &okJSON, &run.RecordsProcessed,
		&errorMessage, &lastSuccess,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: last run: %v", ErrPersistence, err)
	}

	run.Kind = model.Kind(kind)
	run.Status = model.RunStatus(status)
	if endTime != nil {
		run.EndTime = *endTime
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	run.LastSuccessfulAt = lastSuccess
	if err := decodeRunLists(&run, failedJSON, reasonsJSON, okJSON); err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *Postgres) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: begin: %v", ErrPersistence, op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			p.logger.Error(ctx, "rollback failed", logger.String("op", op), logger.Error(rbErr))
		}
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %s: commit: %v", ErrPersistence, op, err)
	}
	return nil
}

func sendMeetings(ctx context.Context, tx pgx.Tx, query string, records []model.MeetingRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		args, err := meetingArgs(r)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}
	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func tableFor(kind model.Kind) string {
	if kind == model.KindScheduled {
		return "scheduled_meetings"
	}
	return "completed_meetings"
}

func meetingArgs(r model.MeetingRecord) ([]interface{}, error) {
	recurrence, err := jsonArg(nonNil(r.Recurrence))
	if err != nil {
		return nil, err
	}
	invitees, err := jsonArg(r.Invitees)
	if err != nil {
		return nil, err
	}
	participants, err := jsonArg(r.Participants)
	if err != nil {
		return nil, err
	}
	transcripts, err := jsonArg(r.Transcripts)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		nullString(r.Key), r.MeetingID, r.ConferenceRecordID, r.RecurringEventID, string(r.Type),
		r.Summary, nullTime(r.StartTime), nullTime(r.EndTime), r.Timezone, r.OrganizerEmail, r.HangoutLink, r.EmployeeEmail,
		recurrence, r.RecurrenceFrequency, invitees, participants, transcripts, r.BatchID,
	}, nil
}

func runArgs(run *model.BatchRun) ([]interface{}, error) {
	failed, err := jsonArg(nonNil(run.FailedUserEmails))
	if err != nil {
		return nil, err
	}
	reasons := run.FailureReasons
	if reasons == nil {
		reasons = map[string]string{}
	}
	reasonsJSON, err := jsonArg(reasons)
	if err != nil {
		return nil, err
	}
	ok, err := jsonArg(nonNil(run.SuccessfulUserEmails))
	if err != nil {
		return nil, err
	}
	return []interface{}{
		run.ID, run.BatchName, string(run.Kind), string(run.Status), run.StartTime, nullTime(run.EndTime),
		run.TotalUsers, run.SuccessfulUsers, run.FailedUsers, failed, reasonsJSON, ok,
		run.RecordsProcessed, nullString(run.ErrorMessage), run.LastSuccessfulAt,
	}, nil
}

func decodeRunLists(run *model.BatchRun, failed, reasons, ok []byte) error {
	run.FailedUserEmails = []string{}
	run.SuccessfulUserEmails = []string{}
	run.FailureReasons = map[string]string{}
	for _, pair := range []struct {
		raw []byte
		dst interface{}
	}{
		{failed, &run.FailedUserEmails},
		{reasons, &run.FailureReasons},
		{ok, &run.SuccessfulUserEmails},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return fmt.Errorf("%w: decode run: %v", ErrPersistence, err)
		}
	}
	return nil
}

// jsonArg encodes v as a JSON string so pgx sends it as text for a JSONB column.
func jsonArg(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	if string(raw) == "null" {
		return "[]", nil
	}
	return string(raw), nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
