// Package shamir implements Shamir secret sharing over GF(2^8) with the AES reduction
// polynomial. Every byte of the secret gets its own random polynomial; share x holds the
// evaluations at x.
package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"

	"heirloom/internal/domain"
)

const maxShares = 255

var (
	errNoShares      = errors.New("shamir: at least two shares are required")
	errShareMismatch = errors.New("shamir: shares differ in length")
	errZeroX         = errors.New("shamir: share x must be non-zero")
	errDuplicateX    = errors.New("shamir: duplicate share x")
)

// Sharer satisfies usecase.SecretSharer.
type Sharer struct{}

func New() Sharer { return Sharer{} }

func (Sharer) Split(secret []byte, threshold, total int) ([]domain.Share, error) {
	return Split(secret, threshold, total)
}

func (Sharer) Combine(shares []domain.Share) ([]byte, error) {
	return Combine(shares)
}

func (Sharer) ShareAt(shares []domain.Share, x byte) (domain.Share, error) {
	return ShareAt(shares, x)
}

// Split returns total shares at x = 1..total, any threshold of which rebuild secret.
func Split(secret []byte, threshold, total int) ([]domain.Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret is empty", domain.ErrValidation)
	}
	if threshold < 2 || threshold > total || total > maxShares {
		return nil, fmt.Errorf("%w: invalid scheme %d-of-%d", domain.ErrValidation, threshold, total)
	}
	shares := make([]domain.Share, total)
	for i := range shares {
		shares[i] = domain.Share{X: byte(i + 1), Data: make([]byte, len(secret))}
	}
	coeffs := make([]byte, threshold)
	for b, s := range secret {
		coeffs[0] = s
		if _, err := rand.Read(coeffs[1:]); err != nil {
			return nil, fmt.Errorf("shamir: read random coefficients: %w", err)
		}
		for i := range shares {
			shares[i].Data[b] = evalPoly(coeffs, shares[i].X)
		}
	}
	clear(coeffs)
	return shares, nil
}

// Combine rebuilds the secret. Passing fewer than threshold shares yields garbage, not an
// error; the scheme cannot tell.
func Combine(shares []domain.Share) ([]byte, error) {
	return interpolate(shares, 0)
}

// ShareAt derives the share at x from at least threshold existing shares, so a replaced
// holder can receive the index it vacated without touching the other holders.
func ShareAt(shares []domain.Share, x byte) (domain.Share, error) {
	if x == 0 {
		return domain.Share{}, errZeroX
	}
	for _, s := range shares {
		if s.X == x {
			return domain.Share{X: x, Data: append([]byte(nil), s.Data...)}, nil
		}
	}
	data, err := interpolate(shares, x)
	if err != nil {
		return domain.Share{}, err
	}
	return domain.Share{X: x, Data: data}, nil
}

func interpolate(shares []domain.Share, at byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errNoShares
	}
	size := len(shares[0].Data)
	seen := make(map[byte]bool, len(shares))
	for _, s := range shares {
		if s.X == 0 {
			return nil, errZeroX
		}
		if seen[s.X] {
			return nil, errDuplicateX
		}
		seen[s.X] = true
		if len(s.Data) != size || size == 0 {
			return nil, errShareMismatch
		}
	}

	// Lagrange basis values at the target point do not depend on the byte position.
	basis := make([]byte, len(shares))
	for i, si := range shares {
		num, den := byte(1), byte(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			num = mul(num, at^sj.X)
			den = mul(den, si.X^sj.X)
		}
		basis[i] = div(num, den)
	}
	out := make([]byte, size)
	for b := 0; b < size; b++ {
		var acc byte
		for i, s := range shares {
			acc ^= mul(s.Data[b], basis[i])
		}
		out[b] = acc
	}
	return out, nil
}

// evalPoly evaluates coeffs at x with Horner's rule; coeffs[0] is the constant term.
func evalPoly(coeffs []byte, x byte) byte {
	var acc byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = mul(acc, x) ^ coeffs[i]
	}
	return acc
}

// mul multiplies in GF(2^8) modulo x^8+x^4+x^3+x+1 without lookup tables.
func mul(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		mask := -(b & 1)
		p ^= a & mask
		carry := -(a >> 7)
		a = (a << 1) ^ (0x1b & carry)
		b >>= 1
	}
	return p
}

// inv is a^254, the multiplicative inverse for a != 0.
func inv(a byte) byte {
	result := byte(1)
	base := a
	for e := 254; e > 0; e >>= 1 {
		if e&1 == 1 {
			result = mul(result, base)
		}
		base = mul(base, base)
	}
	return result
}

func div(a, b byte) byte {
	return mul(a, inv(b))
}
