package token

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "0", true},
		{"0", "0", true},
		{"1", "10000000000000000", true},
		{"1.5", "15000000000000000", true},
		{"0.0000000000000001", "1", true},
		{"10.25", "102500000000000000", true},
		{"-1", "", false},
		{"1.2.3", "", false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0000000000000000", "1.0000000000000000", "12.3400000000000000"} {
		parsed, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestToBZZ(t *testing.T) {
	if got := ToBZZ(FromBZZ(10)); got != 10 {
		t.Errorf("ToBZZ(FromBZZ(10)) = %v", got)
	}
	half, _ := Parse("0.5")
	if got := ToBZZ(half); got != 0.5 {
		t.Errorf("ToBZZ(0.5 BZZ) = %v", got)
	}
	if got := ToBZZ(nil); got != 0 {
		t.Errorf("ToBZZ(nil) = %v", got)
	}
}

func TestFromBZZ(t *testing.T) {
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	if FromBZZ(1).Cmp(want) != 0 {
		t.Errorf("FromBZZ(1) = %s, want %s", FromBZZ(1), want)
	}
}
