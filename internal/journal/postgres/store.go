package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/clinic-console/internal/journal"
	"qms/clinic-console/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS console_journal (
	ticket_id  BIGINT      NOT NULL,
	seq        INT         NOT NULL,
	action     TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	queue_code TEXT        NOT NULL,
	note       TEXT        NOT NULL DEFAULT '',
	operator   TEXT        NOT NULL DEFAULT '',
	request_id TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	prev_hash  TEXT        NOT NULL,
	hash       TEXT        NOT NULL,
	PRIMARY KEY (ticket_id, seq)
)`

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) Record(ctx context.Context, entry journal.Entry) (journal.Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return journal.Entry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, entry.TicketID); err != nil {
		return journal.Entry{}, err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM console_journal
		WHERE ticket_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.TicketID)
	if scanErr := row.Scan(&lastSeq, &prevHash); scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
		err = scanErr
		return journal.Entry{}, err
	}

	var prev *journal.Entry
	if prevHash.Valid {
		prev = &journal.Entry{Seq: lastSeq, Hash: prevHash.String}
	}
	chained := journal.Chain(prev, entry, s.now())

	_, err = tx.Exec(ctx, `
		INSERT INTO console_journal (ticket_id, seq, action, status, queue_code, note, operator, request_id, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, chained.TicketID, chained.Seq, chained.Action, string(chained.Status), chained.QueueCode, chained.Note, chained.Operator, chained.RequestID, chained.CreatedAt, chained.PrevHash, chained.Hash)
	if err != nil {
		return journal.Entry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return journal.Entry{}, err
	}
	return chained, nil
}

func (s *Store) List(ctx context.Context, ticketID int64) ([]journal.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, seq, action, status, queue_code, note, operator, request_id, created_at, prev_hash, hash
		FROM console_journal
		WHERE ticket_id = $1
		ORDER BY seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var entry journal.Entry
		var status string
		if err := rows.Scan(&entry.TicketID, &entry.Seq, &entry.Action, &status, &entry.QueueCode, &entry.Note, &entry.Operator, &entry.RequestID, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, err
		}
		entry.Status = models.Status(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
