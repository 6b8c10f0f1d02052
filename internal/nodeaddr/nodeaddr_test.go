package nodeaddr

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-hsm/internal/hd"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

const h = hd.HardenedOffset

func TestFormat(t *testing.T) {
	tests := []struct {
		path []uint32
		want string
	}{
		{nil, "m"},
		{[]uint32{44 + h, 60 + h, 0 + h, 0}, "m/44'/60'/0'/0"},
		{[]uint32{0, 1, 2}, "m/0/1/2"},
		{[]uint32{h - 1, 1<<32 - 1}, "m/2147483647/2147483647'"},
	}
	for _, tt := range tests {
		if got := Format(tt.path); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"m", "m"},
		{"m/44'/60'/0'/0", "m/44'/60'/0'/0"},
		{"m/44h/60H/0'/0", "m/44'/60'/0'/0"},
		{" m/1/2 ", "m/1/2"},
		{"M/0'", "m/0'"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Errorf("Normalize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "44'/0", "x/0", "m/", "m//1", "m/01", "m/-1", "m/+1",
		"m/1''", "m/2147483648", "m/4294967296'", "m/1/a", "m/1 /2",
	} {
		_, err := Parse(in)
		if !errors.Is(err, hsmerr.ErrInvalidParameter) {
			t.Errorf("Parse(%q) error = %v, want InvalidParameter", in, err)
		}
	}
}

func TestParse_MaxDepth(t *testing.T) {
	path := make([]uint32, hd.MaxDepth)
	if _, err := Parse(Format(path)); err != nil {
		t.Fatalf("max depth rejected: %v", err)
	}
	if _, err := Parse(Format(append(path, 0))); err == nil {
		t.Fatal("path beyond max depth accepted")
	}
}

func TestFormatParse_Bijective(t *testing.T) {
	paths := [][]uint32{
		nil,
		{0}, {0 + h}, {1}, {1 + h},
		{0, 1}, {0, 1 + h}, {0 + h, 1},
		{1, 0}, {10}, {1, 0, 0},
	}
	seen := make(map[string]int)
	for i, p := range paths {
		s := Format(p)
		if j, dup := seen[s]; dup {
			t.Fatalf("paths %d and %d both format as %q", j, i, s)
		}
		seen[s] = i

		back, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if len(back) != len(p) {
			t.Fatalf("Parse(%q) = %v, want %v", s, back, p)
		}
		for k := range p {
			if back[k] != p[k] {
				t.Fatalf("Parse(%q) = %v, want %v", s, back, p)
			}
		}
	}
}

func TestPathHelpers(t *testing.T) {
	p := []uint32{44 + h, 60 + h, 0}
	if IsHardened(p) || !IsHardened(p[:2]) || !IsHardened(nil) {
		t.Error("IsHardened")
	}
	if got := Format(Parent(p)); got != "m/44'/60'" {
		t.Errorf("Parent = %q", got)
	}
	if Parent(nil) != nil {
		t.Error("Parent of root is not nil")
	}
	if !HasPrefix(p, p[:2]) || !HasPrefix(p, nil) || HasPrefix(p[:1], p) {
		t.Error("HasPrefix")
	}
}
