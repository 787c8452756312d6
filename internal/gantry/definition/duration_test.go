package definition

import (
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
)

func TestParseHumanDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"go syntax", "90m", 90 * time.Minute, false},
		{"go compound", "1h30m", 90 * time.Minute, false},
		{"bare seconds", "45", 45 * time.Second, false},
		{"minutes", "30 minutes", 30 * time.Minute, false},
		{"single unit", "1 day", 24 * time.Hour, false},
		{"weeks", "2 weeks", 14 * 24 * time.Hour, false},
		{"month", "1 month", 30 * 24 * time.Hour, false},
		{"year", "1 year", 365 * 24 * time.Hour, false},
		{"compound units", "1 day 6 hours", 30 * time.Hour, false},
		{"fractional", "1.5 hours", 90 * time.Minute, false},
		{"mixed case", "1 Day", 24 * time.Hour, false},
		{"abbreviations", "2 hrs", 2 * time.Hour, false},
		{"empty", "", 0, true},
		{"garbage", "soon", 0, true},
		{"unknown unit", "3 fortnights", 0, true},
		{"negative amount", "-1 day", 0, true},
		{"dangling unit", "1 day 6", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHumanDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseHumanDuration(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHumanDuration(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseHumanDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"empty means server default", "", 0, false},
		{"never", "never", domain.NeverExpire, false},
		{"never mixed case", "Never", domain.NeverExpire, false},
		{"duration", "3 days", 72 * time.Hour, false},
		{"garbage", "whenever", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpiry(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseExpiry(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExpiry(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseExpiry(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
