package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/log"
	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

const (
	fetchKeyPrefix = "fetch:"   // Prefix for per-URL fetch audit keys
	auditDBDir     = "audit_db" // Subdirectory within stateDir for Badger files
)

// AuditStore persists one FetchAudit record per URL in BadgerDB. It is an
// append-only trail of fetch outcomes, independent of the snapshot: the
// snapshot answers "where was I", the audit store answers "what happened
// to each URL".
type AuditStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64
}

// NewAuditStore opens (or creates) the audit database for a site. When
// resume is false any existing database is removed first so stale records
// from an earlier crawl cannot leak into this one's report.
func NewAuditStore(stateDir, siteDomain string, resume bool, logger *logrus.Entry) (*AuditStore, error) {
	dbDirName := utils.SanitizeFilename(siteDomain) + "_" + auditDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if !resume {
		if err := os.RemoveAll(dbPath); err != nil {
			logger.WithFields(logrus.Fields{"path": dbPath, "error": err}).
				Error("Failed to remove existing audit database, attempting to continue")
		}
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create audit db directory '%s': %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest outcome per URL matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening audit database at '%s': %w", utils.ErrDatabase, dbPath, err)
	}

	store := &AuditStore{db: db, log: logger}
	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.WithField("error", err).Warn("Failed to count existing audit records on resume")
		} else {
			store.keyCount.Store(int64(count))
		}
	}

	logger.WithFields(logrus.Fields{"path": dbPath, "resume": resume}).Info("Audit database initialized")
	return store, nil
}

// countKeys performs a one-time full key scan (only during resume init).
func (s *AuditStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction
// conflicts. Concurrent MVCC transactions on overlapping keys can return
// badger.ErrConflict; these resolve in microseconds, so a tight retry loop
// is sufficient.
func (s *AuditStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Record writes (or overwrites) the audit entry for a canonical URL.
func (s *AuditStore) Record(canonURL string, audit *models.FetchAudit) error {
	if s.db == nil {
		return errors.New("audit store not initialized")
	}
	key := []byte(fetchKeyPrefix + canonURL)

	entryBytes, errJson := json.Marshal(audit)
	if errJson != nil {
		return fmt.Errorf("%w: marshaling audit entry for key '%s': %w", utils.ErrParsing, string(key), errJson)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		isNew = false // Reset per attempt: a conflict retry may find the key written meanwhile
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		return fmt.Errorf("%w: writing audit entry for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// Get reads the audit entry for a canonical URL. A missing key returns
// (nil, nil).
func (s *AuditStore) Get(canonURL string) (*models.FetchAudit, error) {
	key := []byte(fetchKeyPrefix + canonURL)
	var entry *models.FetchAudit

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting audit key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.FetchAudit
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.WithFields(logrus.Fields{"key": string(key), "error": errJson}).
					Warn("Failed to unmarshal audit entry, treating as absent")
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Count returns the cached number of audit records (O(1)).
func (s *AuditStore) Count() int {
	return int(s.keyCount.Load())
}

// Close shuts the database down.
func (s *AuditStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.WithField("error", err).Error("Error closing audit database")
			return err
		}
		s.log.Info("Audit database closed")
	}
	return nil
}
