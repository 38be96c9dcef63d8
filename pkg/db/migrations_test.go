package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("db:migrations_test - failed to write test file %s: %v", name, err)
		}
	}
}

func TestLoadMigrationFiles(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		dirs  []string
		want  []string
	}{
		{
			name:  "sorted by name",
			files: map[string]string{"0003_third.sql": "THIRD", "0001_first.sql": "FIRST", "0002_second.sql": "SECOND"},
			want:  []string{"FIRST", "SECOND", "THIRD"},
		},
		{
			name:  "skips non sql files",
			files: map[string]string{"0001_create.sql": "CREATE", "README.md": "# Migrations", "config.json": "{}"},
			want:  []string{"CREATE"},
		},
		{
			name:  "skips directories",
			files: map[string]string{"0001_create.sql": "CREATE"},
			dirs:  []string{"subdir.sql"},
			want:  []string{"CREATE"},
		},
		{
			name:  "skips blank files",
			files: map[string]string{"0001_create.sql": "CREATE", "0002_blank.sql": "  \n"},
			want:  []string{"CREATE"},
		},
		{
			name:  "upper case extension",
			files: map[string]string{"0001_create.SQL": "CREATE"},
			want:  []string{"CREATE"},
		},
		{
			name: "empty dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)
			for _, d := range tt.dirs {
				if err := os.Mkdir(filepath.Join(dir, d), 0755); err != nil {
					t.Fatal(err)
				}
			}

			got, err := LoadMigrationFiles(dir)
			if err != nil {
				t.Fatalf("db:migrations_test - unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("db:migrations_test - got %d migrations, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("db:migrations_test - migration %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	_, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent"))
	if err == nil {
		t.Error("db:migrations_test - expected error for non-existent directory")
	}
}

func TestLoadMigrationFiles_RepositoryMigrations(t *testing.T) {
	got, err := LoadMigrationFiles(ResolveMigrationPath("migrations"))
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(got) == 0 || !strings.Contains(got[0], journalTable) {
		t.Errorf("db:migrations_test - first migration does not create %s", journalTable)
	}
}

func TestResolveMigrationPath(t *testing.T) {
	dir := t.TempDir()
	if got := ResolveMigrationPath(dir); got != dir {
		t.Errorf("db:migrations_test - existing path = %q, want %q", got, dir)
	}
	if got := ResolveMigrationPath("does-not-exist"); got != "does-not-exist" {
		t.Errorf("db:migrations_test - missing path = %q", got)
	}
}
