package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
)

type catalogRow struct {
	ID         string    `db:"id"`
	TestKey    string    `db:"test_key"`
	FolderPath string    `db:"folder_path"`
	SpecPath   string    `db:"spec_path"`
	Meta       string    `db:"meta"`
	Constants  string    `db:"constants"`
	Overrides  *string   `db:"overrides"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r catalogRow) toDomain() (catalog.TestDefinition, error) {
	def := catalog.TestDefinition{
		ID:         r.ID,
		TestKey:    r.TestKey,
		FolderPath: r.FolderPath,
		SpecPath:   r.SpecPath,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Meta), &def.Meta); err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("decode meta: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Constants), &def.Constants); err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("decode constants: %w", err)
	}
	if r.Overrides != nil {
		var overrides catalog.Constants
		if err := json.Unmarshal([]byte(*r.Overrides), &overrides); err != nil {
			return catalog.TestDefinition{}, fmt.Errorf("decode overrides: %w", err)
		}
		def.Overrides = &overrides
	}
	return def, nil
}

// UpsertTestDefinition inserts a new catalog entry keyed by TestKey, or
// updates the existing one's folder/spec path, meta, and constants while
// preserving its ID, CreatedAt, and overrides. Overrides are owned by
// PUT /api/catalog/{testKey}/overrides, never by discovery, so a resync
// never touches them.
func (s *Store) UpsertTestDefinition(ctx context.Context, def catalog.TestDefinition) (catalog.TestDefinition, error) {
	metaJSON, err := json.Marshal(def.Meta)
	if err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("encode meta: %w", err)
	}
	constantsJSON, err := json.Marshal(def.Constants)
	if err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("encode constants: %w", err)
	}
	var overridesJSON *string
	if def.Overrides != nil {
		encoded, err := json.Marshal(def.Overrides)
		if err != nil {
			return catalog.TestDefinition{}, fmt.Errorf("encode overrides: %w", err)
		}
		s := string(encoded)
		overridesJSON = &s
	}

	existing, err := s.GetTestDefinitionByKey(ctx, def.TestKey)
	now := time.Now().UTC()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		def.ID = uuid.NewString()
		def.CreatedAt = now
		def.UpdatedAt = now
		def.Active = true
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO test_definitions (id, test_key, folder_path, spec_path, meta, constants, overrides, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, def.ID, def.TestKey, def.FolderPath, def.SpecPath, string(metaJSON), string(constantsJSON), overridesJSON, def.Active, def.CreatedAt, def.UpdatedAt)
		if err != nil {
			return catalog.TestDefinition{}, err
		}
		return def, nil
	case err != nil:
		return catalog.TestDefinition{}, err
	}

	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = now
	def.Active = true
	def.Overrides = existing.Overrides
	_, err = s.db.ExecContext(ctx, `
		UPDATE test_definitions
		SET folder_path = ?, spec_path = ?, meta = ?, constants = ?, active = 1, updated_at = ?
		WHERE id = ?
	`, def.FolderPath, def.SpecPath, string(metaJSON), string(constantsJSON), def.UpdatedAt, def.ID)
	if err != nil {
		return catalog.TestDefinition{}, err
	}
	return def, nil
}

// GetTestDefinitionByKey fetches a catalog entry by its stable test key.
// Returns sql.ErrNoRows when no entry exists.
func (s *Store) GetTestDefinitionByKey(ctx context.Context, testKey string) (catalog.TestDefinition, error) {
	var row catalogRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, test_key, folder_path, spec_path, meta, constants, overrides, active, created_at, updated_at
		FROM test_definitions WHERE test_key = ?
	`, testKey)
	if err != nil {
		return catalog.TestDefinition{}, err
	}
	return row.toDomain()
}

// GetTestDefinition fetches a catalog entry by ID.
func (s *Store) GetTestDefinition(ctx context.Context, id string) (catalog.TestDefinition, error) {
	var row catalogRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, test_key, folder_path, spec_path, meta, constants, overrides, active, created_at, updated_at
		FROM test_definitions WHERE id = ?
	`, id)
	if err != nil {
		return catalog.TestDefinition{}, err
	}
	return row.toDomain()
}

// CatalogFilter narrows ListTestDefinitions by folder prefix, tag, or
// active-only. Empty fields are ignored.
type CatalogFilter struct {
	FolderPrefix string
	Tag          string
	ActiveOnly   bool
}

// ListTestDefinitions returns catalog entries matching filter, ordered by
// test key for stable pagination-free listing.
func (s *Store) ListTestDefinitions(ctx context.Context, filter CatalogFilter) ([]catalog.TestDefinition, error) {
	query := `
		SELECT id, test_key, folder_path, spec_path, meta, constants, overrides, active, created_at, updated_at
		FROM test_definitions WHERE 1=1
	`
	var args []interface{}
	if filter.FolderPrefix != "" {
		query += " AND folder_path LIKE ?"
		args = append(args, filter.FolderPrefix+"%")
	}
	if filter.ActiveOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY test_key"

	var rows []catalogRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]catalog.TestDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		if filter.Tag != "" && !def.HasTag(filter.Tag) {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// UpdateOverrides atomically replaces a catalog entry's overrides column
// with the supplied value (nil clears it).
func (s *Store) UpdateOverrides(ctx context.Context, id string, overrides *catalog.Constants) (catalog.TestDefinition, error) {
	var overridesJSON *string
	if overrides != nil {
		encoded, err := json.Marshal(overrides)
		if err != nil {
			return catalog.TestDefinition{}, fmt.Errorf("encode overrides: %w", err)
		}
		s := string(encoded)
		overridesJSON = &s
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_definitions SET overrides = ?, updated_at = ? WHERE id = ?
	`, overridesJSON, now, id)
	if err != nil {
		return catalog.TestDefinition{}, err
	}
	if err := checkRowsAffected(result); err != nil {
		return catalog.TestDefinition{}, err
	}
	return s.GetTestDefinition(ctx, id)
}

// ListFolderPaths returns the distinct set of folder paths among active
// catalog entries, ordered lexically.
func (s *Store) ListFolderPaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := s.db.SelectContext(ctx, &paths, `
		SELECT DISTINCT folder_path FROM test_definitions WHERE active = 1 ORDER BY folder_path
	`); err != nil {
		return nil, err
	}
	return paths, nil
}

// ListTags returns the distinct set of tags among active catalog entries'
// meta, sorted lexically.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	defs, err := s.ListTestDefinitions(ctx, CatalogFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, def := range defs {
		for _, tag := range def.Meta.Tags {
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// DeactivateMissing marks every active catalog entry whose TestKey is not in
// seenKeys as inactive, reflecting spec files removed since the last
// discovery pass. It returns the number of entries deactivated.
func (s *Store) DeactivateMissing(ctx context.Context, seenKeys []string) (int64, error) {
	keep := make(map[string]struct{}, len(seenKeys))
	for _, k := range seenKeys {
		keep[k] = struct{}{}
	}

	var activeKeys []string
	if err := s.db.SelectContext(ctx, &activeKeys, `SELECT test_key FROM test_definitions WHERE active = 1`); err != nil {
		return 0, err
	}

	var deactivated int64
	now := time.Now().UTC()
	for _, key := range activeKeys {
		if _, ok := keep[key]; ok {
			continue
		}
		result, err := s.db.ExecContext(ctx, `UPDATE test_definitions SET active = 0, updated_at = ? WHERE test_key = ?`, now, key)
		if err != nil {
			return deactivated, err
		}
		rows, _ := result.RowsAffected()
		deactivated += rows
	}
	return deactivated, nil
}
