package identity

import (
	"strings"
	"testing"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
)

func TestNewAyurSutraID_Format(t *testing.T) {
	tests := []struct {
		role   string
		prefix string
	}{
		{auth.RolePatient, "ASP-"},
		{auth.RoleDoctor, "ASD-"},
		{auth.RoleAdmin, "ASA-"},
	}
	for _, tt := range tests {
		id, err := NewAyurSutraID(tt.role)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.role, err)
		}
		if !strings.HasPrefix(id, tt.prefix) {
			t.Errorf("%s: expected prefix %s, got %s", tt.role, tt.prefix, id)
		}
		if !IsAyurSutraID(id) {
			t.Errorf("%s: generated id %q does not match the format", tt.role, id)
		}
	}
}

func TestNewAyurSutraID_UnknownRole(t *testing.T) {
	if _, err := NewAyurSutraID("nurse"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNewAyurSutraID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewAyurSutraID(auth.RolePatient)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestIsAyurSutraID(t *testing.T) {
	valid := []string{"ASP-ABCDEFGH", "ASD-2345ZZZZ"}
	invalid := []string{"", "ASX-ABCDEFGH", "ASP-abcdefgh", "ASP-ABCDEFG", "ASP-ABCDEFG1", "ASPABCDEFGH"}
	for _, s := range valid {
		if !IsAyurSutraID(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if IsAyurSutraID(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestNormalizeContact(t *testing.T) {
	tests := []struct {
		in       string
		wantKind ContactKind
		want     string
		wantErr  bool
	}{
		{"  Asha@Example.COM ", ContactEmail, "asha@example.com", false},
		{"+91 98000-00001", ContactPhone, "+919800000001", false},
		{"(080) 2345 6789", ContactPhone, "08023456789", false},
		{"not-an-email@", "", "", true},
		{"12ab", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		kind, got, err := NormalizeContact(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if kind != tt.wantKind || got != tt.want {
			t.Errorf("%q: got %s %q, want %s %q", tt.in, kind, got, tt.wantKind, tt.want)
		}
	}
}
