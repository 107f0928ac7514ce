package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

// ReadOption filters a Stoppages query.
type ReadOption func(*stoppageQuery)

type stoppageQuery struct {
	deviceID      *string
	since         *time.Time
	finalizedOnly bool
	limit         int
}

// WithDevice restricts results to one device.
func WithDevice(deviceID string) ReadOption {
	return func(q *stoppageQuery) {
		q.deviceID = &deviceID
	}
}

// WithSince restricts results to stoppages starting at or after t.
func WithSince(t time.Time) ReadOption {
	return func(q *stoppageQuery) {
		q.since = &t
	}
}

// WithFinalizedOnly excludes stoppages that are still open.
func WithFinalizedOnly() ReadOption {
	return func(q *stoppageQuery) {
		q.finalizedOnly = true
	}
}

// WithLimit caps the number of returned records.
func WithLimit(n int) ReadOption {
	return func(q *stoppageQuery) {
		q.limit = n
	}
}

// SqliteStore is the SQLite-backed Store. Writes and reads run over
// separate connections; the write connection uses WAL so readers never
// block the ingestion path.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store over the database at dbPath. The schema
// is initialized on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The write connection initializes the schema first.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) EnsureSession(ctx context.Context, deviceID string) (sessionID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	if _, err = db.ExecContext(ctx, ensureSessionSQL, deviceID); err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, selectSessionSQL, deviceID).Scan(&sessionID); err != nil {
		err = fmt.Errorf("selecting session: %w", err)
	}
	return
}

func (s *SqliteStore) AppendRawSample(ctx context.Context, sample *track.LocationSample, disposition string) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, insertRawSampleSQL,
		sample.DeviceID,
		sample.SequenceNo,
		sample.Timestamp.UTC(),
		sample.Latitude,
		sample.Longitude,
		sample.AccuracyM,
		sample.SpeedMPS,
		sample.Heading,
		sample.BatteryPct,
		sample.Charging,
		disposition,
	); err != nil {
		return fmt.Errorf("appending raw sample: %w", err)
	}
	return nil
}

func (s *SqliteStore) UpsertStoppage(ctx context.Context, stp *track.Stoppage) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var endTime sql.NullTime
	if stp.EndTime != nil {
		endTime.Time = stp.EndTime.UTC()
		endTime.Valid = true
	}

	if _, err = db.ExecContext(ctx, upsertStoppageSQL,
		stp.ID,
		stp.DeviceID,
		stp.StartTime.UTC(),
		endTime,
		stp.DurationS,
		stp.CenterLat,
		stp.CenterLon,
		stp.RadiusM,
		string(stp.Classification),
		stp.Finalized,
	); err != nil {
		return fmt.Errorf("upserting stoppage: %w", err)
	}
	return nil
}

func (s *SqliteStore) Stoppages(ctx context.Context, opts ...ReadOption) (stoppages []*track.Stoppage, err error) {
	var q stoppageQuery
	for _, opt := range opts {
		opt(&q)
	}

	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var sb strings.Builder
	var args []any

	sb.WriteString(selectStoppagesSQL)

	var where []string
	if q.deviceID != nil {
		where = append(where, "device_id = ?")
		args = append(args, *q.deviceID)
	}
	if q.since != nil {
		where = append(where, "start_time >= ?")
		args = append(args, q.since.UTC())
	}
	if q.finalizedOnly {
		where = append(where, "finalized = 1")
	}
	if len(where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	sb.WriteString("\nORDER BY start_time DESC")
	if q.limit > 0 {
		sb.WriteString("\nLIMIT ?")
		args = append(args, q.limit)
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		err = fmt.Errorf("querying stoppages: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var stp track.Stoppage
		var endTime sql.NullTime
		var classification string
		if err = rows.Scan(
			&stp.ID,
			&stp.DeviceID,
			&stp.StartTime,
			&endTime,
			&stp.DurationS,
			&stp.CenterLat,
			&stp.CenterLon,
			&stp.RadiusM,
			&classification,
			&stp.Finalized,
		); err != nil {
			err = fmt.Errorf("scanning stoppage: %w", err)
			return
		}
		if endTime.Valid {
			t := endTime.Time
			stp.EndTime = &t
		}
		stp.Classification = track.StoppageClass(classification)
		stoppages = append(stoppages, &stp)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating stoppages: %w", err)
	}
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
