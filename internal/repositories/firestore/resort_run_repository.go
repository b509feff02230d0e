package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/shelfsort/api/internal/platform/firestore"
	"github.com/shelfsort/api/internal/platform/pagination"

	domain "github.com/shelfsort/api/internal/domain"
)

const resortRunsCollection = "resortRuns"

type resortRunDocument struct {
	Shop         string     `firestore:"shop"`
	CollectionID string     `firestore:"collectionId"`
	Status       string     `firestore:"status"`
	SortKey      string     `firestore:"sortKey"`
	ProductCount int        `firestore:"productCount"`
	JobID        string     `firestore:"jobId,omitempty"`
	SnapshotPath string     `firestore:"snapshotPath,omitempty"`
	Error        string     `firestore:"error,omitempty"`
	StartedAt    time.Time  `firestore:"startedAt"`
	FinishedAt   *time.Time `firestore:"finishedAt,omitempty"`
}

// ResortRunRepository implements repositories.ResortRunRepository backed by
// Firestore.
type ResortRunRepository struct {
	provider *pfirestore.Provider
	runs     *pfirestore.BaseRepository[resortRunDocument]
}

// NewResortRunRepository constructs a Firestore-backed run repository.
func NewResortRunRepository(provider *pfirestore.Provider) (*ResortRunRepository, error) {
	if provider == nil {
		return nil, errors.New("resort run repository requires firestore provider")
	}
	return &ResortRunRepository{
		provider: provider,
		runs:     pfirestore.NewBaseRepository[resortRunDocument](provider, resortRunsCollection, nil, nil),
	}, nil
}

func (r *ResortRunRepository) Create(ctx context.Context, run domain.ResortRun) error {
	return r.write(ctx, run)
}

func (r *ResortRunRepository) Update(ctx context.Context, run domain.ResortRun) error {
	return r.write(ctx, run)
}

func (r *ResortRunRepository) write(ctx context.Context, run domain.ResortRun) error {
	if r == nil || r.runs == nil {
		return errors.New("resort run repository not initialised")
	}
	id := strings.TrimSpace(run.ID)
	if id == "" {
		return errors.New("resort run repository: run id is required")
	}
	_, err := r.runs.Set(ctx, id, encodeResortRun(run))
	return err
}

func (r *ResortRunRepository) FindByID(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
	if r == nil || r.runs == nil {
		return domain.ResortRun{}, errors.New("resort run repository not initialised")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.ResortRun{}, errors.New("resort run repository: run id is required")
	}
	doc, err := r.runs.Get(ctx, runID)
	if err != nil {
		return domain.ResortRun{}, err
	}
	run := decodeResortRun(doc.ID, doc.Data)
	if shop = strings.TrimSpace(shop); shop != "" && run.Shop != shop {
		// runs are tenant-scoped; a foreign shop must not see them
		return domain.ResortRun{}, pfirestore.WrapError("resort run repository: get", status.Errorf(codes.NotFound, "run %s", runID))
	}
	return run, nil
}

// ListByCollection returns runs for the collection ordered newest first.
func (r *ResortRunRepository) ListByCollection(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error) {
	if r == nil || r.runs == nil {
		return domain.CursorPage[domain.ResortRun]{}, errors.New("resort run repository not initialised")
	}
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return domain.CursorPage[domain.ResortRun]{}, errors.New("resort run repository: shop and collection id are required")
	}

	limit := pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeRunListToken(token)
		if err != nil {
			return domain.CursorPage[domain.ResortRun]{}, fmt.Errorf("resort run repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.runs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("shop", "==", shop).
			Where("collectionId", "==", collectionID).
			OrderBy("startedAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ResortRun]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeRunListToken(last.Data.StartedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.ResortRun, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeResortRun(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.ResortRun]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func encodeResortRun(run domain.ResortRun) resortRunDocument {
	doc := resortRunDocument{
		Shop:         run.Shop,
		CollectionID: run.CollectionID,
		Status:       string(run.Status),
		SortKey:      string(run.SortKey),
		ProductCount: run.ProductCount,
		JobID:        run.JobID,
		SnapshotPath: run.SnapshotPath,
		Error:        run.Error,
		StartedAt:    run.StartedAt.UTC(),
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.UTC()
		doc.FinishedAt = &finished
	}
	return doc
}

func decodeResortRun(id string, doc resortRunDocument) domain.ResortRun {
	run := domain.ResortRun{
		ID:           id,
		Shop:         doc.Shop,
		CollectionID: doc.CollectionID,
		Status:       domain.ResortRunStatus(doc.Status),
		SortKey:      domain.SortKey(doc.SortKey),
		ProductCount: doc.ProductCount,
		JobID:        doc.JobID,
		SnapshotPath: doc.SnapshotPath,
		Error:        doc.Error,
		StartedAt:    doc.StartedAt,
	}
	if doc.FinishedAt != nil {
		finished := doc.FinishedAt.UTC()
		run.FinishedAt = &finished
	}
	return run
}

func encodeRunListToken(startedAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{startedAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeRunListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("invalid token timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", errors.New("invalid token document id")
	}
	return ts, docID, nil
}
