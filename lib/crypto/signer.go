package crypto

import (
	"fmt"
	"sync"
)

/*
	The signing capability handed to consensus. Private keys never leave the signer; callers only ask
	for a signature over a byte string on behalf of an account.
*/

// LocalSigner holds decrypted keys in memory and signs on behalf of their addresses
type LocalSigner struct {
	mu   sync.RWMutex
	keys map[string]PrivateKeyI // address hex -> key
}

// NewLocalSigner() creates a signer over the given private keys
func NewLocalSigner(keys ...PrivateKeyI) *LocalSigner {
	s := &LocalSigner{keys: make(map[string]PrivateKeyI)}
	for _, k := range keys {
		s.AddKey(k)
	}
	return s
}

// NewLocalSignerFromKeystore() decrypts the given addresses from the keystore into a signer
func NewLocalSignerFromKeystore(ks *Keystore, password string, addresses ...AddressI) (*LocalSigner, error) {
	s := NewLocalSigner()
	for _, address := range addresses {
		kg, err := ks.GetKeyGroup(address.Bytes(), password)
		if err != nil {
			return nil, fmt.Errorf("unable to unlock %s: %w", address.String(), err)
		}
		s.AddKey(kg.PrivateKey)
	}
	return s, nil
}

// AddKey() makes a key available for signing
func (s *LocalSigner) AddKey(k PrivateKeyI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.PublicKey().Address().String()] = k
}

// Sign() signs msg with the key of the account
func (s *LocalSigner) Sign(msg []byte, account AddressI) ([]byte, error) {
	if account == nil {
		return nil, ErrKeyNotFound
	}
	s.mu.RLock()
	k, ok := s.keys[account.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, account.String())
	}
	return k.Sign(msg), nil
}

// Verifier checks signatures against a known public key
type Verifier struct{}

// Verify() returns true if sig is a valid signature of msg by publicKey
func (Verifier) Verify(msg, sig []byte, publicKey PublicKeyI) bool {
	if publicKey == nil || len(sig) == 0 {
		return false
	}
	return publicKey.VerifyBytes(msg, sig)
}
