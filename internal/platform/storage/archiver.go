package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	domain "github.com/shelfsort/api/internal/domain"
)

const snapshotContentType = "application/json"

// SnapshotArchiver writes the submitted move list of a resort run to a
// Cloud Storage bucket so the final ordering can be audited later.
type SnapshotArchiver struct {
	client *gcs.Client
	bucket string
	now    func() time.Time
}

// SnapshotArchiverOption customises archiver behaviour.
type SnapshotArchiverOption func(*SnapshotArchiver)

// WithSnapshotClock injects a custom clock (useful for tests).
func WithSnapshotClock(clock func() time.Time) SnapshotArchiverOption {
	return func(a *SnapshotArchiver) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewSnapshotArchiver constructs an archiver writing to the given bucket.
func NewSnapshotArchiver(client *gcs.Client, bucket string, opts ...SnapshotArchiverOption) (*SnapshotArchiver, error) {
	if client == nil {
		return nil, errors.New("snapshot archiver: storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("snapshot archiver: bucket is required")
	}

	archiver := &SnapshotArchiver{
		client: client,
		bucket: strings.TrimSpace(bucket),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	return archiver, nil
}

type snapshotDocument struct {
	RunID        string         `json:"runId"`
	Shop         string         `json:"shop"`
	CollectionID string         `json:"collectionId"`
	SortKey      string         `json:"sortKey"`
	Moves        []snapshotMove `json:"moves"`
	ArchivedAt   time.Time      `json:"archivedAt"`
}

type snapshotMove struct {
	ProductID string `json:"productId"`
	Position  int    `json:"position"`
}

// ArchiveMoves serialises the move list and uploads it, returning the
// object path within the snapshot bucket.
func (a *SnapshotArchiver) ArchiveMoves(ctx context.Context, run domain.ResortRun, moves []domain.Move) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("snapshot archiver: not initialised")
	}

	objectPath, err := BuildObjectPath(PurposeRunSnapshot, PathParams{
		Shop:         run.Shop,
		CollectionID: run.CollectionID,
		RunID:        run.ID,
	})
	if err != nil {
		return "", fmt.Errorf("snapshot archiver: %w", err)
	}

	doc := snapshotDocument{
		RunID:        run.ID,
		Shop:         run.Shop,
		CollectionID: run.CollectionID,
		SortKey:      string(run.SortKey),
		Moves:        make([]snapshotMove, 0, len(moves)),
		ArchivedAt:   a.now().UTC(),
	}
	for _, move := range moves {
		doc.Moves = append(doc.Moves, snapshotMove{
			ProductID: move.ProductID,
			Position:  move.Position,
		})
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("snapshot archiver: marshal snapshot: %w", err)
	}

	writer := a.client.Bucket(a.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = snapshotContentType
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("snapshot archiver: write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("snapshot archiver: close snapshot writer: %w", err)
	}

	return objectPath, nil
}
