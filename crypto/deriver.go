package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Deriver maps opaque user identifiers onto signing keys and addresses.
//
// The mapping is a pure function of the master secret: anyone holding the
// secret can reproduce every user's private key. That is the deliberate
// stateless-wallet trade-off this service is built on; the secret must be
// treated with the same care as a custodial key store and only ever enters
// the process through configuration.
type Deriver struct {
	masterSecret []byte
}

// NewDeriver builds a deriver from the configured master secret.
func NewDeriver(masterSecret string) (*Deriver, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("wallet master secret required")
	}
	return &Deriver{masterSecret: []byte(masterSecret)}, nil
}

// Derive returns the deterministic keypair and address for userID.
// seed = HMAC-SHA256(masterSecret, userID); the seed is used directly as the
// secp256k1 scalar. HMAC is total, so an empty userID still yields a valid
// key; callers validate identifiers upstream.
func (d *Deriver) Derive(userID string) (*PrivateKey, common.Address, error) {
	mac := hmac.New(sha256.New, d.masterSecret)
	mac.Write([]byte(userID))
	seed := mac.Sum(nil)

	key, err := PrivateKeyFromBytes(seed)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive key for user %s: %w", userID, err)
	}
	return key, key.PubKey().Address(), nil
}

// Address is a convenience wrapper for callers that only need the account
// address for a user.
func (d *Deriver) Address(userID string) (common.Address, error) {
	_, addr, err := d.Derive(userID)
	return addr, err
}
