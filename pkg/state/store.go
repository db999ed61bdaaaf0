package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

const snapshotTempSuffix = ".tmp"

// Store persists crawl snapshots to a single file with atomic replacement:
// each checkpoint is written to a temp file in the same directory and then
// renamed over the previous snapshot, so a crash mid-write never leaves a
// partial file where the snapshot should be. An I/O failure here is fatal
// for the crawl — continuing would silently break resumability.
type Store struct {
	path string
	log  *logrus.Entry
}

// NewStore creates a Store writing to stateDir/<sanitized domain>_snapshot.json.
func NewStore(stateDir, siteDomain string, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory '%s': %w", utils.ErrFilesystem, stateDir, err)
	}
	filename := utils.SanitizeFilename(siteDomain) + "_snapshot.json"
	return &Store{
		path: filepath.Join(stateDir, filename),
		log:  log,
	}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Checkpoint atomically replaces the snapshot file with the given state.
func (s *Store) Checkpoint(snap *models.CrawlSnapshot) error {
	snap.SchemaVersion = models.SnapshotSchemaVersion
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling snapshot: %w", utils.ErrParsing, err)
	}

	tmpPath := s.path + snapshotTempSuffix
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: writing snapshot temp file '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replacing snapshot '%s': %w", utils.ErrFilesystem, s.path, err)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.path,
		"visited": len(snap.Visited),
		"pending": len(snap.Pending),
		"final":   snap.Final,
	}).Debug("Snapshot checkpoint written")
	return nil
}

// Load reads the snapshot file. A missing file returns (nil, nil): nothing
// to resume. A corrupt or schema-incompatible file is logged and also
// treated as absent, per the resume contract — a bad snapshot must not
// wedge the crawler, it just costs a fresh start.
func (s *Store) Load() (*models.CrawlSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.WithField("path", s.path).Info("No snapshot found, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot '%s': %w", utils.ErrFilesystem, s.path, err)
	}

	var snap models.CrawlSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.WithFields(logrus.Fields{"path": s.path, "error": err}).
			Warn("Snapshot file is corrupt, ignoring it and starting fresh")
		return nil, nil
	}
	if snap.SchemaVersion != models.SnapshotSchemaVersion {
		s.log.WithFields(logrus.Fields{
			"path":     s.path,
			"got":      snap.SchemaVersion,
			"expected": models.SnapshotSchemaVersion,
		}).Warn("Snapshot schema version mismatch, ignoring it and starting fresh")
		return nil, nil
	}

	s.log.WithFields(logrus.Fields{
		"path":     s.path,
		"visited":  len(snap.Visited),
		"pending":  len(snap.Pending),
		"saved_at": snap.SavedAt.Format(time.RFC3339),
		"final":    snap.Final,
	}).Info("Snapshot loaded")
	return &snap, nil
}

// Finalize writes the terminal snapshot marking the crawl complete. A
// finalized snapshot still loads, but the engine treats it as a finished
// crawl rather than one to resume.
func (s *Store) Finalize(snap *models.CrawlSnapshot) error {
	snap.Final = true
	return s.Checkpoint(snap)
}

// Remove deletes the snapshot file (fresh-start mode).
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing snapshot '%s': %w", utils.ErrFilesystem, s.path, err)
	}
	return nil
}
