package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// Address is the short version of a public key: the first 20 bytes of its hash
type Address []byte

var _ AddressI = &Address{}

const (
	AddressSize = 20
)

// NewAddressFromPublicKey() derives the address of raw public key bytes
func NewAddressFromPublicKey(publicKey []byte) AddressI {
	a := Address(Hash(publicKey)[:AddressSize])
	return &a
}

// NewAddressFromBytes() wraps address bytes; nil in nil out
func NewAddressFromBytes(bz []byte) AddressI {
	if bz == nil {
		return nil
	}
	a := Address(bz)
	return &a
}

// NewAddressFromString() parses a hex address
func NewAddressFromString(hexString string) (AddressI, error) {
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, err
	}
	return NewAddressFromBytes(bz), nil
}

func (a *Address) Bytes() []byte          { return (*a)[:] }
func (a *Address) String() string         { return hex.EncodeToString(a.Bytes()) }
func (a *Address) Equals(e AddressI) bool { return e != nil && bytes.Equal(a.Bytes(), e.Bytes()) }

// MarshalJSON() implements the json.Marshaller interface for Address
func (a *Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON() implements the json.Unmarshaler interface for Address
func (a *Address) UnmarshalJSON(b []byte) (err error) {
	var hexString string
	if err = json.Unmarshal(b, &hexString); err != nil {
		return
	}
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return
	}
	*a = bz
	return
}
