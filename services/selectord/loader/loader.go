// Package loader keeps the daemon's snapshot registry in sync with the
// ruleset source of record. Reloads are serialized; a failed compile
// leaves the prior snapshot serving and is only visible in logs and
// metrics.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pixrouter/observability"
	"pixrouter/selector"
	"pixrouter/storage"
)

const defaultInterval = 15 * time.Second

// Config wires a Loader. Registry and Source are required; Fallback
// enables serving the last-known-good document across repository
// outages.
type Config struct {
	Registry *selector.Registry
	Source   Source
	Fallback *storage.SnapshotStore
	Interval time.Duration
	Logger   *slog.Logger
}

// Loader drives snapshot installs from polls, signals, and admin
// activations.
type Loader struct {
	registry *selector.Registry
	source   Source
	fallback *storage.SnapshotStore
	interval time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	lastChecksum string
}

func New(cfg Config) (*Loader, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("loader: registry is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("loader: source is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		registry: cfg.Registry,
		source:   cfg.Source,
		fallback: cfg.Fallback,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}, nil
}

// Bootstrap installs the first snapshot. When the source is unreachable
// and a fallback store holds a cached document, that document serves
// until the next successful reload. The returned error means the daemon
// starts without an active snapshot; selections will fail with 503
// until a reload or activation succeeds.
func (l *Loader) Bootstrap(ctx context.Context) error {
	err := l.Reload(ctx, "bootstrap")
	if err == nil || l.fallback == nil {
		return err
	}
	record, document, cacheErr := l.fallback.LoadActive()
	if cacheErr != nil {
		if !errors.Is(cacheErr, storage.ErrNotCached) {
			l.logger.Warn("snapshot cache unreadable", "err", cacheErr)
		}
		return err
	}
	snap, compileErr := CompileJSON(document)
	if compileErr != nil {
		l.logger.Warn("cached snapshot no longer compiles", "err", compileErr)
		return err
	}
	l.mu.Lock()
	l.registry.Install(snap)
	l.lastChecksum = record.Checksum
	l.mu.Unlock()
	observability.Reload().RecordReload("cache", snap.Version, nil)
	observability.Selector().SetActiveRuleset(snap.ID, snap.Version)
	l.logger.Warn("serving cached snapshot",
		"source", l.source.Describe(),
		"source_err", err,
		"ruleset_id", snap.ID,
		"version", snap.Version,
		"cached_at", record.SavedAt,
	)
	return nil
}

// Reload fetches and compiles the source document, installing it when
// its content differs from the active snapshot. Unchanged documents are
// a no-op. Trigger names the caller for logs and metrics: poll, sighup,
// activate, bootstrap.
func (l *Loader) Reload(ctx context.Context, trigger string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, raw, err := l.source.Load(ctx)
	if err != nil {
		observability.Reload().RecordReload(trigger, 0, err)
		l.logger.Error("snapshot reload failed",
			"trigger", trigger,
			"source", l.source.Describe(),
			"err", err,
		)
		return err
	}
	checksum := storage.Checksum(raw)
	if checksum == l.lastChecksum {
		return nil
	}

	prior := l.registry.Install(snap)
	l.lastChecksum = checksum
	observability.Reload().RecordReload(trigger, snap.Version, nil)
	observability.Selector().SetActiveRuleset(snap.ID, snap.Version)
	if l.fallback != nil {
		if err := l.fallback.SaveActive(snap.ID, snap.Version, raw); err != nil {
			l.logger.Warn("snapshot cache write failed", "err", err)
		}
	}

	attrs := []any{
		"trigger", trigger,
		"ruleset_id", snap.ID,
		"version", snap.Version,
		"rules", snap.RuleCount(),
		"checksum", checksum,
	}
	if prior != nil {
		attrs = append(attrs, "prior_version", prior.Version)
	}
	l.logger.Info("snapshot installed", attrs...)
	return nil
}

// Run polls the source until ctx is cancelled. Reload errors are
// already logged and counted; polling continues through them.
func (l *Loader) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Reload(ctx, "poll")
		}
	}
}

// Compile builds a snapshot from a parsed document, feeding the
// compiler metrics.
func Compile(doc *selector.Document) (*selector.Snapshot, error) {
	start := time.Now()
	snap, err := selector.Compile(doc)
	observability.Compiler().ObserveCompile(time.Since(start), CompileCodes(err))
	return snap, err
}

// CompileJSON builds a snapshot from raw document bytes, feeding the
// compiler metrics.
func CompileJSON(data []byte) (*selector.Snapshot, error) {
	start := time.Now()
	snap, err := selector.CompileJSON(data)
	observability.Compiler().ObserveCompile(time.Since(start), CompileCodes(err))
	return snap, err
}

// CompileCodes flattens a compile failure into its error codes, nil for
// success.
func CompileCodes(err error) []string {
	if err == nil {
		return nil
	}
	var cerrs *selector.CompileErrors
	if !errors.As(err, &cerrs) {
		return []string{"unknown"}
	}
	codes := make([]string, 0, len(cerrs.Errors))
	for _, ce := range cerrs.Errors {
		codes = append(codes, ce.Code)
	}
	return codes
}
