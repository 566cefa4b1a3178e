package loader

import (
	"context"
	"fmt"
	"os"

	"pixrouter/selector"
	"pixrouter/storage"
)

// Source produces the document that should be serving, already
// compiled, along with its canonical bytes for checksumming and
// caching.
type Source interface {
	Load(ctx context.Context) (*selector.Snapshot, []byte, error)
	Describe() string
}

// RepositorySource serves whatever the repository reports as active.
type RepositorySource struct {
	Repo storage.Repository
}

func (s RepositorySource) Load(ctx context.Context) (*selector.Snapshot, []byte, error) {
	doc, _, err := s.Repo.ActiveRuleset(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load active ruleset: %w", err)
	}
	raw, err := doc.JSON()
	if err != nil {
		return nil, nil, fmt.Errorf("encode active ruleset: %w", err)
	}
	snap, err := Compile(doc)
	if err != nil {
		return nil, nil, err
	}
	return snap, raw, nil
}

func (s RepositorySource) Describe() string { return "repository" }

// FileSource serves a ruleset document straight from disk, the
// deployment mode without a database.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (*selector.Snapshot, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read ruleset file: %w", err)
	}
	snap, err := CompileJSON(raw)
	if err != nil {
		return nil, nil, err
	}
	return snap, raw, nil
}

func (s FileSource) Describe() string { return "file:" + s.Path }
