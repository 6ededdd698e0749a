package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestUUID(t *testing.T) {
	a, b := UUID(), UUID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("not a uuid: %v", err)
	}
}

func TestULIDIsMonotonic(t *testing.T) {
	prev := ULID()
	for i := 0; i < 100; i++ {
		next := ULID()
		if next <= prev {
			t.Fatalf("ulid not increasing: %s <= %s", next, prev)
		}
		if _, err := ulid.Parse(next); err != nil {
			t.Fatalf("parse: %v", err)
		}
		prev = next
	}
}

func TestNamed(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"", false},
		{"uuid", false},
		{"ulid", false},
		{"snowflake", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Named(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Named(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err == nil && g() == "" {
				t.Error("empty id")
			}
		})
	}
}
