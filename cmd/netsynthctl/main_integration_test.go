//go:build sqlite

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"netsynth/internal/storage"
)

func TestCorpusCommandSQLitePersistsModels(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "netsynth.db")
	outDir := filepath.Join(dir, "corpus")
	args := []string{
		"corpus",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--out-dir", outDir,
		"--run-id", "sqlite-run",
		"--batches", "1",
		"--batch-size", "3",
		"--seed", "4",
		"--params", writeDenseParams(t, dir),
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("corpus command: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}

	store, err := storage.NewStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	records, err := store.ListModels(context.Background(), "sqlite-run")
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 persisted models, got %d", len(records))
	}
	if _, ok, err := store.GetCorpusRun(context.Background(), "sqlite-run"); err != nil || !ok {
		t.Fatalf("expected persisted run; ok=%t err=%v", ok, err)
	}

	if err := run(context.Background(), []string{"models", "--store", "sqlite", "--db-path", dbPath, "--run-id", "sqlite-run"}); err != nil {
		t.Fatalf("models command: %v", err)
	}
}
