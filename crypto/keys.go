package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 signing key used to authorise on-chain
// transactions on behalf of a derived wallet.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey returns a fresh random key. Derived user wallets never
// use this path; it exists for the owner/funding account tooling.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the standard 20-byte chain address for the key.
func (k *PublicKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(*k.PublicKey)
}

// PrivateKeyFromBytes rebuilds a key from its scalar bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a 0x-prefixed or bare hex private key string.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	key, err := ethcrypto.HexToECDSA(s)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
