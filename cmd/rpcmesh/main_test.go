package main

import (
	"strings"
	"testing"
)

const mainTestPrefix = "cmd/rpcmesh:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "ensure-db", "clear", "prune", "describe", "DATABASE_URL", "RPC_DRAIN_TIMEOUT"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestWithDatabaseName(t *testing.T) {
	got, err := withDatabaseName("postgres://u:p@localhost:5432/app?sslmode=disable", "rpcmesh_test")
	if err != nil {
		t.Fatal(err)
	}
	if got != "postgres://u:p@localhost:5432/rpcmesh_test?sslmode=disable" {
		t.Errorf("%s - url = %q", mainTestPrefix, got)
	}
}

func TestSplitRoles(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"admin", []string{"admin"}},
		{" admin , ops ,", []string{"admin", "ops"}},
	}
	for _, tt := range tests {
		got := splitRoles(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("%s - splitRoles(%q) = %v, want %v", mainTestPrefix, tt.in, got, tt.want)
		}
	}
}

func TestRunPrune_InvalidDuration(t *testing.T) {
	for _, arg := range []string{"soon", "-1h", "0s"} {
		if err := runPrune(arg); err == nil || !strings.Contains(err.Error(), "invalid duration") {
			t.Errorf("%s - runPrune(%q) = %v", mainTestPrefix, arg, err)
		}
	}
}
