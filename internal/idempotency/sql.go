package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Record is a cached response in the idempotency_records table.
type Record struct {
	Key       string    `gorm:"primaryKey;size:128"`
	Response  string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

// TableName pins the table name.
func (Record) TableName() string {
	return "idempotency_records"
}

// SQLStore keeps responses in the shared database so every process using
// it sees the same keys.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// WithClock replaces the time source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, s.now().UTC()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return []byte(rec.Response), true, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now().UTC()
	return sqlite.PerformWrite(slog.Default(), s.db.WithContext(ctx), func(tx *gorm.DB) error {
		err := tx.Exec(`
            INSERT INTO idempotency_records (key, response, expires_at, created_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET response = excluded.response, expires_at = excluded.expires_at
        `, key, string(value), now.Add(ttl), now).Error
		if err != nil {
			return fmt.Errorf("failed to store idempotency record: %w", err)
		}
		return nil
	})
}

// Sweep deletes expired records and returns how many went away.
func (s *SQLStore) Sweep(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep idempotency records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
