package instrument

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		wantErr        bool
		wantUnderlying string
		wantStrike     string
		wantType       string
		wantExpiry     string
	}{
		{
			name:           "call",
			input:          "SPX-19DEC25-5500-C",
			wantUnderlying: "SPX",
			wantStrike:     "5500",
			wantType:       TypeCall,
			wantExpiry:     "2025-12-19",
		},
		{
			name:           "put with fractional strike",
			input:          "BTC-13MAR26-75000.5-P",
			wantUnderlying: "BTC",
			wantStrike:     "75000.5",
			wantType:       TypePut,
			wantExpiry:     "2026-03-13",
		},
		{
			name:           "dotted underlying",
			input:          "IX.D.SPTRD-19DEC25-5500-C",
			wantUnderlying: "IX.D.SPTRD",
			wantStrike:     "5500",
			wantType:       TypeCall,
			wantExpiry:     "2025-12-19",
		},
		{name: "bare epic", input: "IX.D.SPTRD.IFS.IP", wantErr: true},
		{name: "missing type", input: "SPX-19DEC25-5500", wantErr: true},
		{name: "bad type", input: "SPX-19DEC25-5500-X", wantErr: true},
		{name: "bad month", input: "SPX-19XYZ25-5500-C", wantErr: true},
		{name: "lowercase", input: "spx-19dec25-5500-c", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q): expected error, got %+v", tt.input, opt)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if opt.Underlying != tt.wantUnderlying {
				t.Errorf("underlying = %q, want %q", opt.Underlying, tt.wantUnderlying)
			}
			if opt.Strike.String() != tt.wantStrike {
				t.Errorf("strike = %s, want %s", opt.Strike, tt.wantStrike)
			}
			if opt.Type != tt.wantType {
				t.Errorf("type = %q, want %q", opt.Type, tt.wantType)
			}
			if got := opt.Expiry.Format("2006-01-02"); got != tt.wantExpiry {
				t.Errorf("expiry = %s, want %s", got, tt.wantExpiry)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	expiry := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
	name := Format("SPX", expiry, decimal.NewFromInt(5500), "PUT")
	if name != "SPX-19DEC25-5500-P" {
		t.Fatalf("Format = %q", name)
	}

	opt, err := Parse(name)
	if err != nil {
		t.Fatalf("Parse(Format(...)): %v", err)
	}
	if opt.Type != TypePut || !opt.Expiry.Equal(expiry) {
		t.Fatalf("round trip lost fields: %+v", opt)
	}
}

func TestUnderlying(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SPX-19DEC25-5500-C", "SPX"},
		{"SPX-19DEC25-5600-C", "SPX"},
		{"NDX-19DEC25-20000-P", "NDX"},
		{"IX.D.SPTRD.IFS.IP", "IX.D.SPTRD.IFS.IP"},
		{"BTC-PERP", "BTC"},
	}
	for _, tt := range tests {
		if got := Underlying(tt.input); got != tt.want {
			t.Errorf("Underlying(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
