package semver

import (
	"testing"
)

func TestParseContractRef_BasicFormat(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantNamespace string
		wantName      string
		wantRange     string
		wantFull      string
		wantErr       bool
	}{
		{
			name:          "no version",
			input:         "DataContract.IService",
			wantNamespace: "DataContract",
			wantName:      "IService",
			wantFull:      "DataContract.IService",
		},
		{
			name:          "major only",
			input:         "DataContract.IService@3",
			wantNamespace: "DataContract",
			wantName:      "IService",
			wantRange:     "3",
			wantFull:      "DataContract.IService",
		},
		{
			name:          "caret range",
			input:         "DataContract.IService@^1.2.0",
			wantNamespace: "DataContract",
			wantName:      "IService",
			wantRange:     "^1.2.0",
			wantFull:      "DataContract.IService",
		},
		{
			name:          "nested namespace",
			input:         "Acme.Billing.IInvoices@1.0.0",
			wantNamespace: "Acme.Billing",
			wantName:      "IInvoices",
			wantRange:     "1.0.0",
			wantFull:      "Acme.Billing.IInvoices",
		},
		{
			name:     "bare name",
			input:    "IService",
			wantName: "IService",
			wantFull: "IService",
		},
		{name: "empty", input: "", wantErr: true},
		{name: "leading dot", input: ".IService", wantErr: true},
		{name: "trailing dot", input: "DataContract.", wantErr: true},
		{name: "digit start", input: "1Service", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseContractRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("semver:parser_test - expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if ref.Namespace != tt.wantNamespace {
				t.Errorf("semver:parser_test - Namespace = %q, want %q", ref.Namespace, tt.wantNamespace)
			}
			if ref.Name != tt.wantName {
				t.Errorf("semver:parser_test - Name = %q, want %q", ref.Name, tt.wantName)
			}
			if ref.Range != tt.wantRange {
				t.Errorf("semver:parser_test - Range = %q, want %q", ref.Range, tt.wantRange)
			}
			if ref.Full != tt.wantFull {
				t.Errorf("semver:parser_test - Full = %q, want %q", ref.Full, tt.wantFull)
			}
		})
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := map[string]bool{"3": true, "12": true, "3.2": false, "^3": false, "": false}
	for in, want := range tests {
		if got := IsMajorOnly(in); got != want {
			t.Errorf("semver:parser_test - IsMajorOnly(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExtractMajorFromRange(t *testing.T) {
	if got := ExtractMajorFromRange("4"); got != 4 {
		t.Errorf("semver:parser_test - expected 4, got %d", got)
	}
	if got := ExtractMajorFromRange("^4.0.0"); got != -1 {
		t.Errorf("semver:parser_test - expected -1, got %d", got)
	}
}

func TestBuildContractRef(t *testing.T) {
	if got := BuildContractRef("DataContract.IService", "1.0.0"); got != "DataContract.IService@1.0.0" {
		t.Errorf("semver:parser_test - got %q", got)
	}
	if got := BuildContractRef("DataContract.IService", ""); got != "DataContract.IService" {
		t.Errorf("semver:parser_test - got %q", got)
	}
}
