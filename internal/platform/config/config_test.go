package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"RESORT_FIRESTORE_PROJECT_ID": "shelfsort-dev",
		"RESORT_CATALOG_ENDPOINT":     "https://catalog.example.com/admin/api/graphql",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Catalog.PageSize != defaultCatalogPageSize {
		t.Errorf("unexpected default catalog page size: %d", cfg.Catalog.PageSize)
	}
	if cfg.Catalog.Timeout != defaultCatalogTimeout {
		t.Errorf("unexpected default catalog timeout: %s", cfg.Catalog.Timeout)
	}
	if cfg.PubSub.ProjectID != "shelfsort-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Resort.PollInterval != defaultResortPollInterval {
		t.Errorf("unexpected default poll interval: %s", cfg.Resort.PollInterval)
	}
	if cfg.Resort.PollAttempts != defaultResortPollAttempts {
		t.Errorf("unexpected default poll attempts: %d", cfg.Resort.PollAttempts)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"RESORT_SERVER_PORT":                  "9090",
		"RESORT_SERVER_READ_TIMEOUT":          "20s",
		"RESORT_SERVER_WRITE_TIMEOUT":         "25s",
		"RESORT_SERVER_IDLE_TIMEOUT":          "2m",
		"RESORT_FIRESTORE_PROJECT_ID":         "shelfsort-prod",
		"RESORT_FIRESTORE_EMULATOR_HOST":      "",
		"RESORT_CATALOG_ENDPOINT":             "https://catalog.example.com/admin/api/graphql",
		"RESORT_CATALOG_ACCESS_TOKEN":         "secret://catalog/token",
		"RESORT_CATALOG_PAGE_SIZE":            "100",
		"RESORT_CATALOG_TIMEOUT":              "45s",
		"RESORT_PUBSUB_PROJECT_ID":            "shelfsort-events",
		"RESORT_PUBSUB_TOPIC":                 "resort-completed",
		"RESORT_PUBSUB_DISABLED":              "true",
		"RESORT_STORAGE_SNAPSHOTS_BUCKET":     "shelfsort-snapshots-prod",
		"RESORT_POLL_INTERVAL":                "5s",
		"RESORT_POLL_ATTEMPTS":                "12",
		"RESORT_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"RESORT_IDEMPOTENCY_TTL":              "48h",
		"RESORT_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"RESORT_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	secrets := map[string]string{
		"secret://catalog/token": "catalog-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Catalog.AccessToken != "catalog-token" {
		t.Errorf("expected resolved catalog token, got %s", cfg.Catalog.AccessToken)
	}
	if cfg.Catalog.PageSize != 100 {
		t.Errorf("unexpected catalog page size %d", cfg.Catalog.PageSize)
	}
	if cfg.Catalog.Timeout != 45*time.Second {
		t.Errorf("unexpected catalog timeout %s", cfg.Catalog.Timeout)
	}
	if cfg.PubSub.ProjectID != "shelfsort-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.ResortTopicID != "resort-completed" {
		t.Errorf("unexpected pubsub topic %s", cfg.PubSub.ResortTopicID)
	}
	if !cfg.PubSub.PublishDisabled {
		t.Errorf("expected publishing disabled")
	}
	if cfg.Storage.SnapshotsBucket != "shelfsort-snapshots-prod" {
		t.Errorf("unexpected snapshots bucket %s", cfg.Storage.SnapshotsBucket)
	}
	if cfg.Resort.PollInterval != 5*time.Second {
		t.Errorf("unexpected poll interval %s", cfg.Resort.PollInterval)
	}
	if cfg.Resort.PollAttempts != 12 {
		t.Errorf("unexpected poll attempts %d", cfg.Resort.PollAttempts)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "RESORT_SERVER_PORT=7070\nRESORT_FIRESTORE_PROJECT_ID=shelfsort-dot\nRESORT_CATALOG_ENDPOINT=https://catalog.example.com/graphql\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "shelfsort-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["RESORT_CATALOG_ACCESS_TOKEN"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "RESORT_FIRESTORE_PROJECT_ID=dot-project\nRESORT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("RESORT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("RESORT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"RESORT_FIRESTORE_PROJECT_ID": "override-project",
		"RESORT_SECRET_VERSION_PINS":  "secret://catalog/token=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["RESORT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["RESORT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["RESORT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["RESORT_SECRET_VERSION_PINS"]; got != "secret://catalog/token=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Catalog.AccessToken"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Catalog.AccessToken")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Catalog.AccessToken" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Catalog.AccessToken"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["RESORT_CATALOG_ACCESS_TOKEN"] = "sm://catalog/token"

	secrets := map[string]string{
		"secret://catalog/token": "legacy-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Catalog.AccessToken != "legacy-token" {
		t.Fatalf("expected legacy token, got %s", cfg.Catalog.AccessToken)
	}
}
