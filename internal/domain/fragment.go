package domain

import "time"

// Fragment is one sealed share of a vault secret. Fragments are write-once: replacing a
// holder destroys the old row and issues a new one.
type Fragment struct {
	ID         string
	VaultID    string
	GuardianID string
	Index      int
	Ciphertext []byte
	Salt       []byte
	CreatedAt  time.Time
}

// Share is an unsealed secret-sharing share. X is the 1-based evaluation point.
type Share struct {
	X    byte
	Data []byte
}
