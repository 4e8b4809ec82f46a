package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MutateFunc receives the current value (nil when absent) and returns the
// value to write.
type MutateFunc func(current []byte) ([]byte, error)

// Backend is a durable key-value store holding whole blobs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Update runs fn and writes its result in one transaction. If fn or the
	// write fails the stored value is unchanged.
	Update(ctx context.Context, key string, fn MutateFunc) error
	Close() error
}

const keyPrefix = "kv:"

// BadgerBackend keeps blobs in BadgerDB.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens a BadgerDB at path, or an in-memory instance when
// inMemory is set.
func OpenBadger(path string, inMemory bool) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (b *BadgerBackend) Update(ctx context.Context, key string, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		var current []byte
		item, err := txn.Get([]byte(keyPrefix + key))
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return err
		default:
			if current, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefix+key), next)
	})
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// KVBlob is the row type of the SQLite backend.
type KVBlob struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     []byte
	UpdatedAt time.Time
}

func (KVBlob) TableName() string {
	return "kv_blobs"
}

// SQLiteBackend keeps blobs in a single SQLite table through GORM.
type SQLiteBackend struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps the read-modify-write transactions serial.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&KVBlob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var rows []KVBlob
	if err := s.db.WithContext(ctx).Where("name = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Value, nil
}

func (s *SQLiteBackend) Update(ctx context.Context, key string, fn MutateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []KVBlob
		if err := tx.Where("name = ?", key).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		var current []byte
		if len(rows) > 0 {
			current = rows[0].Value
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		row := KVBlob{Name: key, Value: next, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error
	})
}

func (s *SQLiteBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
