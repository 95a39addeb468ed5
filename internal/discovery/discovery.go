// Package discovery reconciles the deployed test tree on disk against the
// persistent catalog.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/logging"
)

// CatalogStore is the persistence dependency Sync needs.
type CatalogStore interface {
	UpsertTestDefinition(ctx context.Context, def catalog.TestDefinition) (catalog.TestDefinition, error)
	DeactivateMissing(ctx context.Context, seenKeys []string) (int64, error)
}

// Discoverer walks a test root and reconciles it against a CatalogStore.
type Discoverer struct {
	store    CatalogStore
	testRoot string
	log      *logging.Logger
}

// New builds a Discoverer rooted at testRoot.
func New(store CatalogStore, testRoot string, log *logging.Logger) *Discoverer {
	return &Discoverer{store: store, testRoot: testRoot, log: log}
}

// Result summarizes one discovery pass.
type Result struct {
	Upserted    int
	Deactivated int64
	Skipped     int
}

// Sync walks testRoot, upserting one catalog entry per test folder found and
// deactivating catalog rows whose folder no longer exists. A nonexistent
// root logs a warning and returns cleanly; an empty tree leaves the catalog
// untouched rather than deactivating everything.
func (d *Discoverer) Sync(ctx context.Context) (Result, error) {
	var result Result

	info, err := os.Stat(d.testRoot)
	if err != nil || !info.IsDir() {
		d.log.WithContext(ctx).WithField("testRoot", d.testRoot).Warn("test root does not exist; skipping discovery")
		return result, nil
	}

	var seenKeys []string
	walkErr := filepath.WalkDir(d.testRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.log.WithContext(ctx).WithField("path", path).WithError(err).Error("walk test root")
			return nil
		}
		if !entry.IsDir() {
			return nil
		}

		children, err := os.ReadDir(path)
		if err != nil {
			d.log.WithContext(ctx).WithField("path", path).WithError(err).Error("read test folder")
			return nil
		}

		hasMeta := false
		var specFiles []string
		for _, child := range children {
			if child.IsDir() {
				continue
			}
			if child.Name() == "meta.json" {
				hasMeta = true
			}
			if strings.HasSuffix(child.Name(), ".spec.js") {
				specFiles = append(specFiles, child.Name())
			}
		}
		if !hasMeta || len(specFiles) != 1 {
			return nil
		}

		def, err := d.loadTestFolder(path, specFiles[0])
		if err != nil {
			d.log.WithContext(ctx).WithField("path", path).WithError(err).Error("discover test folder")
			result.Skipped++
			return nil
		}

		upserted, err := d.store.UpsertTestDefinition(ctx, def)
		if err != nil {
			d.log.WithContext(ctx).WithField("testKey", def.TestKey).WithError(err).Error("upsert test definition")
			result.Skipped++
			return nil
		}

		seenKeys = append(seenKeys, upserted.TestKey)
		result.Upserted++
		return nil
	})
	if walkErr != nil {
		return result, fmt.Errorf("walk test root: %w", walkErr)
	}

	if len(seenKeys) == 0 {
		d.log.WithContext(ctx).Warn("discovery found no test folders; leaving catalog untouched")
		return result, nil
	}

	deactivated, err := d.store.DeactivateMissing(ctx, seenKeys)
	if err != nil {
		return result, fmt.Errorf("deactivate missing test definitions: %w", err)
	}
	result.Deactivated = deactivated

	return result, nil
}

func (d *Discoverer) loadTestFolder(path, specFile string) (catalog.TestDefinition, error) {
	metaBytes, err := os.ReadFile(filepath.Join(path, "meta.json"))
	if err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("read meta.json: %w", err)
	}
	if !gjson.ValidBytes(metaBytes) {
		return catalog.TestDefinition{}, fmt.Errorf("meta.json is not valid JSON")
	}
	testKey := gjson.GetBytes(metaBytes, "testKey").String()
	if strings.TrimSpace(testKey) == "" {
		return catalog.TestDefinition{}, fmt.Errorf("meta.json missing required field testKey")
	}
	friendlyName := gjson.GetBytes(metaBytes, "friendlyName").String()
	if strings.TrimSpace(friendlyName) == "" {
		return catalog.TestDefinition{}, fmt.Errorf("meta.json missing required field friendlyName")
	}

	var meta catalog.Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("decode meta.json: %w", err)
	}

	constants := catalog.Constants{}
	constantsPath := filepath.Join(path, "constants.json")
	if constantsBytes, err := os.ReadFile(constantsPath); err == nil {
		if !gjson.ValidBytes(constantsBytes) {
			return catalog.TestDefinition{}, fmt.Errorf("constants.json is not valid JSON")
		}
		if err := json.Unmarshal(constantsBytes, &constants); err != nil {
			return catalog.TestDefinition{}, fmt.Errorf("decode constants.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return catalog.TestDefinition{}, fmt.Errorf("read constants.json: %w", err)
	}

	folderPath, err := filepath.Rel(d.testRoot, path)
	if err != nil {
		return catalog.TestDefinition{}, fmt.Errorf("compute folder path: %w", err)
	}
	folderPath = filepath.ToSlash(folderPath)
	specPath := folderPath + "/" + specFile

	return catalog.TestDefinition{
		TestKey:    testKey,
		FolderPath: folderPath,
		SpecPath:   specPath,
		Meta:       meta,
		Constants:  constants,
	}, nil
}
