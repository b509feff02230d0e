package storage

import (
	"fmt"
	"strings"
	"sync"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const (
	PurposeRunSnapshot ObjectPurpose = "run-snapshot"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	Shop         string
	CollectionID string
	RunID        string
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeRunSnapshot: buildRunSnapshotPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

func buildRunSnapshotPath(params PathParams) (string, error) {
	shop, err := validateSegment("shop", sanitizeSegment(params.Shop))
	if err != nil {
		return "", err
	}
	collectionID, err := validateSegment("collectionID", sanitizeSegment(params.CollectionID))
	if err != nil {
		return "", err
	}
	runID, err := validateSegment("runID", sanitizeSegment(params.RunID))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("snapshots/%s/%s/%s.json", shop, collectionID, runID), nil
}

// sanitizeSegment replaces the scheme and separator characters used by
// catalog global identifiers (gid://...) so they form a single path segment.
func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	replacer := strings.NewReplacer("/", "~", ":", "~", "\\", "~")
	return replacer.Replace(value)
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
