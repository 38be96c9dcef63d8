package db

import (
	"context"
	"testing"
)

const poolMigrationTestPrefix = "db:pool_migration_test"

func TestMigrationDown_ReturnsNil(t *testing.T) {
	if err := MigrationDown(context.Background(), nil, ""); err != nil {
		t.Errorf("%s - MigrationDown returned %v, want nil", poolMigrationTestPrefix, err)
	}
}
