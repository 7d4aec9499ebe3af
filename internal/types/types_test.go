package types

import (
	"errors"
	"math"
	"testing"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
)

func TestNewPosition(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		wantErr  bool
	}{
		{"origin", 0, 0, false},
		{"corners", -180, 90, false},
		{"other corner", 180, -90, false},
		{"lon too large", 180.0001, 0, true},
		{"lat too small", 0, -90.5, true},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPosition(tt.lon, tt.lat)
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Fatalf("unexpected error: got=%v want=%v", err, ErrOutOfRange)
				}
				if apperr.KindOf(err) != apperr.KindValidation {
					t.Fatalf("unexpected error kind: got=%v want=%v", apperr.KindOf(err), apperr.KindValidation)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPosition failed: %v", err)
			}
			if p.Longitude != tt.lon || p.Latitude != tt.lat {
				t.Fatalf("position mismatch: got=%+v want=(%v,%v)", p, tt.lon, tt.lat)
			}
		})
	}
}

func TestNewHue(t *testing.T) {
	tests := []struct {
		in   int
		want Hue
	}{
		{360, 0},
		{730, 10},
		{-10, 350},
		{359, 359},
	}
	for _, tt := range tests {
		if got := NewHue(tt.in); got != tt.want {
			t.Fatalf("NewHue(%d) mismatch: got=%d want=%d", tt.in, got, tt.want)
		}
	}
}

func TestNewSlotIndex(t *testing.T) {
	for _, ok := range []int{0, 35, MaxSlotIndex} {
		s, err := NewSlotIndex(ok)
		if err != nil {
			t.Fatalf("NewSlotIndex(%d) failed: %v", ok, err)
		}
		if s != SlotIndex(ok) {
			t.Fatalf("slot mismatch: got=%d want=%d", s, ok)
		}
	}
	for _, bad := range []int{-1, MaxSlotIndex + 1, 1000} {
		if _, err := NewSlotIndex(bad); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("NewSlotIndex(%d) should fail with validation: got=%v", bad, err)
		}
	}
}

func TestNewLocalizedName(t *testing.T) {
	n, err := NewLocalizedName("  EN ", " Tokyo ")
	if err != nil {
		t.Fatalf("NewLocalizedName failed: %v", err)
	}
	if want := (LocalizedName{Lang: "en", Name: "Tokyo"}); n != want {
		t.Fatalf("name mismatch: got=%+v want=%+v", n, want)
	}

	for _, tt := range []struct{ lang, name string }{
		{"engl1", "x"},
		{"", "x"},
		{"ja", "  "},
	} {
		if _, err := NewLocalizedName(tt.lang, tt.name); err == nil {
			t.Fatalf("NewLocalizedName(%q, %q) should fail", tt.lang, tt.name)
		}
	}
}

func TestLocationName(t *testing.T) {
	loc := Location{Names: []LocalizedName{{Lang: "en", Name: "Tokyo"}, {Lang: "ja", Name: "東京"}}}
	name, ok := loc.Name("ja")
	if !ok || name != "東京" {
		t.Fatalf("Name(ja) mismatch: got=%q,%v want=東京,true", name, ok)
	}
	if _, ok := loc.Name("fr"); ok {
		t.Fatal("Name(fr) should not be found")
	}
}
