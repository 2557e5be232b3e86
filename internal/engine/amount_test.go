package engine

import (
	"math/big"
	"testing"
)

func TestNormalizeAmountLeadingDot(t *testing.T) {
	cases := map[string]string{
		".5":    "0.5",
		" .25 ": "0.25",
		"0.5":   "0.5",
		"3":     "3",
	}
	for input, want := range cases {
		if got := NormalizeAmount(input); got != want {
			t.Fatalf("normalize %q: got %q, want %q", input, got, want)
		}
	}
}

func TestParseAmountSmallestUnit(t *testing.T) {
	cases := []struct {
		input    string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 18, "500000000000000000"},
		{".5", 18, "500000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{"2", 0, "2"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.input, tc.decimals)
		if err != nil {
			t.Fatalf("parse %q decimals %d: %v", tc.input, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parse %q decimals %d: got %s, want %s", tc.input, tc.decimals, got, tc.want)
		}
	}
}

func TestParseAmountLeadingDotEquivalence(t *testing.T) {
	dotted, err := ParseAmount(".5", 18)
	if err != nil {
		t.Fatalf("parse .5: %v", err)
	}
	explicit, err := ParseAmount("0.5", 18)
	if err != nil {
		t.Fatalf("parse 0.5: %v", err)
	}
	if dotted.Cmp(explicit) != 0 {
		t.Fatalf(".5 and 0.5 must parse identically: %s vs %s", dotted, explicit)
	}
}

func TestParseAmountRejectsInvalid(t *testing.T) {
	cases := []struct {
		input    string
		decimals uint8
	}{
		{"", 18},
		{"0", 18},
		{"0.0", 18},
		{"-1", 18},
		{"abc", 18},
		{"1.2.3", 18},
		{"1,5", 18},
		{"0.0000000000000000001", 18}, // 19 fractional digits
		{"0.0000001", 6},              // more precision than the token
	}
	for _, tc := range cases {
		if _, err := ParseAmount(tc.input, tc.decimals); err == nil {
			t.Fatalf("expected %q (decimals %d) to be rejected", tc.input, tc.decimals)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"500000000000000000", 18, "0.5"},
		{"1500000", 6, "1.5"},
		{"1", 6, "0.000001"},
		{"0", 18, "0"},
		{"42", 0, "42"},
	}
	for _, tc := range cases {
		value, ok := new(big.Int).SetString(tc.value, 10)
		if !ok {
			t.Fatalf("bad test value %q", tc.value)
		}
		if got := FormatAmount(value, tc.decimals); got != tc.want {
			t.Fatalf("format %s decimals %d: got %q, want %q", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	amount, err := ParseAmount("12.345", 8)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := FormatAmount(amount, 8); got != "12.345" {
		t.Fatalf("round trip: got %q", got)
	}
}
