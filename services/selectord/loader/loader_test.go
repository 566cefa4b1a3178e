package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pixrouter/selector"
	"pixrouter/storage"
)

func rulesetJSON(version int64, gateway string) string {
	return fmt.Sprintf(`{
  "id": 7, "version": %d, "default_gateway": "%s",
  "gateways": ["CELCOIN", "TRANSFEERA"],
  "rules": [
    {"id": 1, "priority": 1, "enabled": true,
     "condition_type": "USER", "condition_value": 777,
     "action": {"route": "DENY", "reason_code": "blocked"}}
  ]
}`, version, gateway)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFileLoader(t *testing.T, path string, fallback *storage.SnapshotStore) (*Loader, *selector.Registry) {
	t.Helper()
	registry := selector.NewRegistry()
	ldr, err := New(Config{
		Registry: registry,
		Source:   FileSource{Path: path},
		Fallback: fallback,
		Interval: time.Minute,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return ldr, registry
}

func TestReloadInstallsAndSkipsUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleset.json")
	require.NoError(t, os.WriteFile(path, []byte(rulesetJSON(1, "CELCOIN")), 0o600))
	ldr, registry := newFileLoader(t, path, nil)
	ctx := context.Background()

	require.NoError(t, ldr.Reload(ctx, "poll"))
	snap, err := registry.Current()
	require.NoError(t, err)
	require.Equal(t, int64(7), snap.ID)
	require.Equal(t, int64(1), snap.Version)

	// Unchanged content must not reinstall.
	require.NoError(t, ldr.Reload(ctx, "poll"))
	same, err := registry.Current()
	require.NoError(t, err)
	require.Same(t, snap, same)

	require.NoError(t, os.WriteFile(path, []byte(rulesetJSON(2, "CELCOIN")), 0o600))
	require.NoError(t, ldr.Reload(ctx, "sighup"))
	next, err := registry.Current()
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Version)
}

func TestReloadKeepsServingOnBrokenDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleset.json")
	require.NoError(t, os.WriteFile(path, []byte(rulesetJSON(1, "CELCOIN")), 0o600))
	ldr, registry := newFileLoader(t, path, nil)
	ctx := context.Background()

	require.NoError(t, ldr.Reload(ctx, "poll"))

	require.NoError(t, os.WriteFile(path, []byte(rulesetJSON(2, "GHOST")), 0o600))
	err := ldr.Reload(ctx, "poll")
	require.Error(t, err)
	var cerrs *selector.CompileErrors
	require.ErrorAs(t, err, &cerrs)

	snap, err := registry.Current()
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version, "prior snapshot must keep serving")
}

func TestBootstrapServesCachedSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruleset.json")
	require.NoError(t, os.WriteFile(path, []byte(rulesetJSON(3, "CELCOIN")), 0o600))
	store, err := storage.OpenSnapshotStore(filepath.Join(dir, "snapshots.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	warm, _ := newFileLoader(t, path, store)
	require.NoError(t, warm.Bootstrap(context.Background()))

	// A fresh daemon whose source is gone serves the cached document.
	cold, registry := newFileLoader(t, filepath.Join(dir, "missing.json"), store)
	require.NoError(t, cold.Bootstrap(context.Background()))
	snap, err := registry.Current()
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
}

func TestBootstrapWithoutFallbackSurfacesError(t *testing.T) {
	ldr, registry := newFileLoader(t, filepath.Join(t.TempDir(), "missing.json"), nil)
	require.Error(t, ldr.Bootstrap(context.Background()))
	_, err := registry.Current()
	require.ErrorIs(t, err, selector.ErrNoActiveSnapshot)
}

func TestRepositorySourceLoadsActive(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	repo := storage.NewRepository(db)
	ctx := context.Background()
	src := RepositorySource{Repo: repo}

	_, _, err = src.Load(ctx)
	require.ErrorIs(t, err, storage.ErrNoActiveRuleset)

	doc, err := selector.ParseDocument([]byte(rulesetJSON(5, "CELCOIN")))
	require.NoError(t, err)
	_, err = repo.SaveRuleset(ctx, doc, "ops")
	require.NoError(t, err)
	_, err = repo.Activate(ctx, 7, 5, "ops", "rollout")
	require.NoError(t, err)

	snap, raw, err := src.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), snap.ID)
	require.Equal(t, int64(5), snap.Version)
	want, err := doc.JSON()
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(raw))
}

func TestCompileCodes(t *testing.T) {
	require.Nil(t, CompileCodes(nil))
	require.Equal(t, []string{"unknown"}, CompileCodes(errors.New("boom")))

	_, err := selector.CompileJSON([]byte(rulesetJSON(1, "GHOST")))
	codes := CompileCodes(err)
	require.NotEmpty(t, codes)
	require.Contains(t, codes, selector.CodeUnknownGateway)
}
