package shamir

import (
	"bytes"
	"errors"
	"testing"

	"heirloom/internal/domain"
)

func TestGFMultiplyKnownProduct(t *testing.T) {
	if got := mul(0x57, 0x83); got != 0xc1 {
		t.Fatalf("mul(0x57, 0x83) = %#x, want 0xc1", got)
	}
	for a := 1; a < 256; a++ {
		if got := mul(byte(a), inv(byte(a))); got != 1 {
			t.Fatalf("a * inv(a) = %#x for a=%#x", got, a)
		}
	}
}

func TestSplitCombineAnySubset(t *testing.T) {
	secret := []byte("correct horse battery staple")
	shares, err := Split(secret, 3, 5)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("expected 5 shares, got %d", len(shares))
	}
	subsets := [][]int{{0, 1, 2}, {4, 2, 0}, {1, 3, 4}, {0, 1, 2, 3, 4}}
	for _, idx := range subsets {
		var pick []domain.Share
		for _, i := range idx {
			pick = append(pick, shares[i])
		}
		got, err := Combine(pick)
		if err != nil {
			t.Fatalf("combine %v: %v", idx, err)
		}
		if !bytes.Equal(got, secret) {
			t.Fatalf("combine %v returned %q", idx, got)
		}
	}
}

func TestShareAtRebuildsVacatedIndex(t *testing.T) {
	secret := []byte{0x00, 0xff, 0x10, 0x42}
	shares, err := Split(secret, 2, 3)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	rebuilt, err := ShareAt([]domain.Share{shares[0], shares[2]}, 2)
	if err != nil {
		t.Fatalf("share at: %v", err)
	}
	if rebuilt.X != 2 || !bytes.Equal(rebuilt.Data, shares[1].Data) {
		t.Fatalf("rebuilt share %v does not match original %v", rebuilt, shares[1])
	}
	got, err := Combine([]domain.Share{rebuilt, shares[2]})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatalf("combine with rebuilt share returned %x", got)
	}
}

func TestSplitRejectsBadScheme(t *testing.T) {
	cases := []struct {
		name      string
		threshold int
		total     int
	}{
		{"threshold one", 1, 3},
		{"threshold above total", 4, 3},
		{"too many shares", 2, 256},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split([]byte("s"), tc.threshold, tc.total); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCombineRejectsMalformedShares(t *testing.T) {
	a := domain.Share{X: 1, Data: []byte{1, 2}}
	cases := map[string][]domain.Share{
		"single":    {a},
		"duplicate": {a, a},
		"zero x":    {a, {X: 0, Data: []byte{1, 2}}},
		"length":    {a, {X: 2, Data: []byte{1}}},
	}
	for name, shares := range cases {
		if _, err := Combine(shares); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
