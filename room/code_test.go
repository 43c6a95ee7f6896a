package room

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRandomGeneratorProducesValidCodes(t *testing.T) {
	gen := RandomGenerator{}
	for i := 0; i < 500; i++ {
		code, err := gen.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if !ValidCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
}

func TestRandomGeneratorSkipsBiasedBytes(t *testing.T) {
	src := bytes.NewReader(append(
		[]byte{255, 0, 252, 1, 253, 2, 254, 3, 251, 35, 36, 71},
		make([]byte, 24)...,
	))
	code, err := RandomGenerator{Reader: src}.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if code != "0123ZZ" {
		t.Fatalf("expected 0123ZZ, got %q", code)
	}
}

func TestRandomGeneratorReadError(t *testing.T) {
	_, err := RandomGenerator{Reader: bytes.NewReader(nil)}.Generate()
	if err == nil {
		t.Fatal("expected error from exhausted reader")
	}
	if !strings.Contains(err.Error(), "read random bytes") {
		t.Fatalf("unexpected error: %v", err)
	}
	if errors.Is(err, ErrCapacityExhausted) {
		t.Fatal("read errors must not look like capacity exhaustion")
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab12cd\n"); got != "AB12CD" {
		t.Fatalf("expected AB12CD, got %q", got)
	}
}

func TestValidCode(t *testing.T) {
	valid := []string{"AB12CD", "000000", "ZZZZZZ"}
	for _, c := range valid {
		if !ValidCode(c) {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	invalid := []string{"", "AB12C", "AB12CDE", "ab12cd", "AB-2CD", "AB 2CD"}
	for _, c := range invalid {
		if ValidCode(c) {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
}
