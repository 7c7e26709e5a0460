// Package sqlstore implements unireq.CacheStore on a SQL database through
// gorm, for caches that must survive restarts.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	unireq "github.com/oorabona/unireq-sub005"
)

// Entry is the persisted form of a unireq.CacheEntry.
type Entry struct {
	CacheKey     string `gorm:"column:cache_key;primaryKey;size:512"`
	StatusCode   int
	Status       string `gorm:"size:128"`
	Header       string `gorm:"type:text"`
	Body         []byte
	ETag         string `gorm:"column:etag;size:256"`
	LastModified string `gorm:"size:64"`
	StoredAt     time.Time
	ExpiresAt    time.Time `gorm:"index"`
}

// TableName implements gorm's tabler.
func (Entry) TableName() string { return "unireq_cache_entries" }

// Dialector maps a driver name to a gorm dialector. Supported drivers are
// postgres, mysql and sqlite.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}
}

// Store is a CacheStore persisted in a SQL table.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ unireq.CacheStore = (*Store)(nil)

// Open connects with the named driver and migrates the cache table.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sql cache store connected", zap.String("driver", driver))
	return s, nil
}

// New wraps db and migrates the cache table.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "sql-cache"))}, nil
}

// Name identifies the store in inspection output.
func (s *Store) Name() string { return "sql" }

// Get implements unireq.CacheStore.
func (s *Store) Get(ctx context.Context, key string) (*unireq.CacheEntry, bool, error) {
	var row Entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	entry, err := row.toCacheEntry()
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Set implements unireq.CacheStore. An existing row for key is replaced.
func (s *Store) Set(ctx context.Context, key string, entry *unireq.CacheEntry) error {
	row, err := fromCacheEntry(key, entry)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		s.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete implements unireq.CacheStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Prune removes entries that expired before cutoff and reports how many
// rows were deleted. Stale entries are otherwise kept for revalidation.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cache prune failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("cache pruned", zap.Int64("rows", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromCacheEntry(key string, e *unireq.CacheEntry) (*Entry, error) {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache header: %w", err)
	}
	return &Entry{
		CacheKey:     key,
		StatusCode:   e.StatusCode,
		Status:       e.Status,
		Header:       string(header),
		Body:         e.Body,
		ETag:         e.ETag,
		LastModified: e.LastModified,
		StoredAt:     e.StoredAt.UTC(),
		ExpiresAt:    e.ExpiresAt.UTC(),
	}, nil
}

func (r *Entry) toCacheEntry() (*unireq.CacheEntry, error) {
	e := &unireq.CacheEntry{
		Key:          r.CacheKey,
		StatusCode:   r.StatusCode,
		Status:       r.Status,
		Body:         r.Body,
		ETag:         r.ETag,
		LastModified: r.LastModified,
		StoredAt:     r.StoredAt,
		ExpiresAt:    r.ExpiresAt,
	}
	if r.Header != "" {
		if err := json.Unmarshal([]byte(r.Header), &e.Header); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cache header: %w", err)
		}
	}
	return e, nil
}
