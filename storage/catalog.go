package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one gateway definition from the on-disk catalog file.
type CatalogEntry struct {
	Name        string
	DisplayName string
	Endpoint    string
	Enabled     bool
	TimeoutMS   int
}

// catalogFile mirrors the YAML representation of a catalog entry.
type catalogFile struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Endpoint    string `yaml:"endpoint"`
	Enabled     *bool  `yaml:"enabled"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

// LoadCatalog reads the gateway catalog from the provided YAML file on
// disk. Names are upper-cased and must be unique.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []catalogFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	catalog := make([]CatalogEntry, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		name := strings.ToUpper(strings.TrimSpace(entry.Name))
		if name == "" {
			return nil, fmt.Errorf("catalog gateway name required")
		}
		if _, exists := seen[name]; exists {
			return nil, fmt.Errorf("duplicate catalog entry for gateway %s", name)
		}
		seen[name] = struct{}{}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		timeout := entry.TimeoutMS
		if timeout <= 0 {
			timeout = 5000
		}
		catalog = append(catalog, CatalogEntry{
			Name:        name,
			DisplayName: strings.TrimSpace(entry.DisplayName),
			Endpoint:    strings.TrimSpace(entry.Endpoint),
			Enabled:     enabled,
			TimeoutMS:   timeout,
		})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })
	return catalog, nil
}

// SyncCatalog upserts the catalog entries into the repository so the
// admin surface and the ruleset validator share one gateway universe.
func SyncCatalog(ctx context.Context, repo Repository, entries []CatalogEntry) error {
	for _, entry := range entries {
		gw := GatewayConfig{
			Name:        entry.Name,
			DisplayName: entry.DisplayName,
			Endpoint:    entry.Endpoint,
			Enabled:     entry.Enabled,
			TimeoutMS:   entry.TimeoutMS,
		}
		if err := repo.UpsertGateway(ctx, gw); err != nil {
			return fmt.Errorf("sync gateway %s: %w", entry.Name, err)
		}
	}
	return nil
}
