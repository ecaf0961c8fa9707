package dialplan

import (
	"testing"

	"github.com/acme/agent-dispatch/internal/config"
)

func TestDigitsStripsFormatting(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-2030": "15550102030",
		"555.010.2030":      "5550102030",
		"0721234567":        "0721234567",
	}

	for raw, want := range cases {
		got, err := (Digits{}).Normalize(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDigitsRejectsEmpty(t *testing.T) {
	if _, err := (Digits{}).Normalize("ext-office"); err == nil {
		t.Fatal("expected validation error for digitless input")
	}
}

func TestNationalMobileInsertsMissingPrefix(t *testing.T) {
	// 10-digit national mobile numbers led by "05"; subscribers often
	// dial the 8 digits after the prefix.
	n := NationalMobile{FullLength: 10, Prefix: "05", InsertAt: 0}

	got, err := n.Normalize("1234-5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0512345678" {
		t.Errorf("got %q, want 0512345678", got)
	}
}

func TestNationalMobileLeavesCompleteNumbers(t *testing.T) {
	n := NationalMobile{FullLength: 10, Prefix: "05", InsertAt: 0}

	got, err := n.Normalize("05 1234 5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0512345678" {
		t.Errorf("got %q, want 0512345678", got)
	}

	// International format is longer than the national form and must
	// pass through untouched.
	got, err = n.Normalize("+972 51 234 5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "972512345678" {
		t.Errorf("got %q, want 972512345678", got)
	}
}

func TestNationalMobileMidNumberInsertion(t *testing.T) {
	// Numbering plans that added a digit after the area code.
	n := NationalMobile{FullLength: 11, Prefix: "9", InsertAt: 2}

	got, err := n.Normalize("(11) 8765-4321")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "11987654321" {
		t.Errorf("got %q, want 11987654321", got)
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.DialplanConfig{}).(Digits); !ok {
		t.Fatal("expected plain digits normalizer by default")
	}

	n := FromConfig(config.DialplanConfig{MobileFullLength: 10, MobilePrefix: "05"})
	if _, ok := n.(NationalMobile); !ok {
		t.Fatal("expected national mobile normalizer when rule configured")
	}
}
