package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/resultexport/internal/model"
)

const timeLayout = time.RFC3339Nano

// Read returns the metadata last written for streamKey. ok is false when
// the stream has never been dispatched.
func (s *Store) Read(ctx context.Context, streamKey string) (meta model.DispatchMetadata, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT stream_key, sequence_number, created_at, checksum, file_name, row_count
		FROM dispatch_metadata
		WHERE stream_key = ?
	`), streamKey)

	meta, err = scanMetadata(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DispatchMetadata{}, false, nil
	}
	if err != nil {
		return model.DispatchMetadata{}, false, fmt.Errorf("read metadata %q: %w", streamKey, err)
	}
	return meta, true, nil
}

// Write records meta as the stream's latest dispatch and appends it to the
// history in one transaction.
func (s *Store) Write(ctx context.Context, meta model.DispatchMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write metadata: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	createdAt := meta.CreatedAt.UTC().Format(timeLayout)

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO dispatch_metadata
		(stream_key, sequence_number, created_at, checksum, file_name, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_key) DO UPDATE SET
			sequence_number = excluded.sequence_number,
			created_at = excluded.created_at,
			checksum = excluded.checksum,
			file_name = excluded.file_name,
			row_count = excluded.row_count
	`),
		meta.StreamKey,
		meta.SequenceNumber,
		createdAt,
		meta.Checksum,
		meta.FileName,
		meta.RowCount,
	)
	if err != nil {
		return fmt.Errorf("write metadata: upsert: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO dispatch_history
		(stream_key, sequence_number, created_at, checksum, file_name, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		meta.StreamKey,
		meta.SequenceNumber,
		createdAt,
		meta.Checksum,
		meta.FileName,
		meta.RowCount,
	)
	if err != nil {
		return fmt.Errorf("write metadata: history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write metadata: commit: %w", err)
	}
	return nil
}

// History returns up to limit past dispatches of streamKey, newest first.
func (s *Store) History(ctx context.Context, streamKey string, limit int) ([]model.DispatchMetadata, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT stream_key, sequence_number, created_at, checksum, file_name, row_count
		FROM dispatch_history
		WHERE stream_key = ?
		ORDER BY sequence_number DESC, id DESC
		LIMIT ?
	`), streamKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query history %q: %w", streamKey, err)
	}
	defer rows.Close()

	out := []model.DispatchMetadata{}
	for rows.Next() {
		meta, err := scanMetadata(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history %q: %w", streamKey, err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history %q: %w", streamKey, err)
	}
	return out, nil
}

func scanMetadata(scan func(dest ...any) error) (model.DispatchMetadata, error) {
	var (
		meta      model.DispatchMetadata
		createdAt string
	)
	if err := scan(&meta.StreamKey, &meta.SequenceNumber, &createdAt, &meta.Checksum, &meta.FileName, &meta.RowCount); err != nil {
		return model.DispatchMetadata{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return model.DispatchMetadata{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	meta.CreatedAt = t
	return meta, nil
}
