package lib

import (
	"encoding/json"

	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/drand/kyber"
)

const (
	// MaxValidators is bounded by the single byte validator index carried in every payload
	MaxValidators = 255
)

// FaultTolerance() returns f = floor((n-1)/3), the number of faulty validators n can tolerate
func FaultTolerance(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}

// Quorum() returns m = n - f, the number of matching votes needed to advance a phase
func Quorum(n int) int { return n - FaultTolerance(n) }

// Validator is a committee member identified by its index in the ordered set
type Validator struct {
	Index     uint8             `json:"index"`
	PublicKey crypto.PublicKeyI `json:"publicKey"`
}

// Address() returns the account the signer uses for this validator
func (v *Validator) Address() crypto.AddressI { return v.PublicKey.Address() }

// ValidatorSet is the ordered, immutable committee of a round
type ValidatorSet struct {
	validators []*Validator
	// multiKey is set when every member holds a BLS key, enabling aggregated block witnesses
	multiKey crypto.MultiPublicKeyI
}

// NewValidatorSet() creates the ordered committee; the position in the list is the validator index
func NewValidatorSet(publicKeys []crypto.PublicKeyI) (*ValidatorSet, ErrorI) {
	if len(publicKeys) == 0 {
		return nil, ErrNoValidators()
	}
	if len(publicKeys) > MaxValidators {
		return nil, ErrInvalidConfig("too many validators")
	}
	vs := &ValidatorSet{validators: make([]*Validator, 0, len(publicKeys))}
	points, allBLS := make([]kyber.Point, 0, len(publicKeys)), true
	for i, pk := range publicKeys {
		if pk == nil {
			return nil, ErrInvalidArgument()
		}
		for _, v := range vs.validators {
			if v.PublicKey.Equals(pk) {
				return nil, ErrInvalidConfig("duplicate validator public key")
			}
		}
		vs.validators = append(vs.validators, &Validator{Index: uint8(i), PublicKey: pk})
		if bls, ok := pk.(*crypto.BLS12381PublicKey); ok {
			points = append(points, bls.Point)
		} else {
			allBLS = false
		}
	}
	if allBLS {
		mpk, err := crypto.NewMultiBLSFromPoints(points, nil)
		if err != nil {
			return nil, ErrAggregateSignature(err)
		}
		vs.multiKey = mpk
	}
	return vs, nil
}

// NewValidatorSetFromBytes() creates the committee from raw public keys
func NewValidatorSetFromBytes(publicKeys [][]byte) (*ValidatorSet, ErrorI) {
	keys := make([]crypto.PublicKeyI, 0, len(publicKeys))
	for _, bz := range publicKeys {
		pk, err := crypto.NewPublicKeyFromBytes(bz)
		if err != nil {
			return nil, ErrPubKeyFromBytes(err)
		}
		keys = append(keys, pk)
	}
	return NewValidatorSet(keys)
}

// N() returns the committee size
func (vs *ValidatorSet) N() int { return len(vs.validators) }

// F() returns the number of tolerated faulty validators
func (vs *ValidatorSet) F() int { return FaultTolerance(vs.N()) }

// M() returns the quorum size
func (vs *ValidatorSet) M() int { return Quorum(vs.N()) }

// PrimaryIndex() returns (blockIndex - view) mod n without unsigned underflow
func (vs *ValidatorSet) PrimaryIndex(blockIndex uint32, view uint8) uint8 {
	n := int64(vs.N())
	p := (int64(blockIndex) - int64(view)) % n
	if p < 0 {
		p += n
	}
	return uint8(p)
}

// IsValidIndex() reports whether the index is within [0, n)
func (vs *ValidatorSet) IsValidIndex(index uint8) bool { return int(index) < vs.N() }

// GetValidator() returns the validator at an index
func (vs *ValidatorSet) GetValidator(index uint8) (*Validator, ErrorI) {
	if !vs.IsValidIndex(index) {
		return nil, ErrInvalidValidatorIndex(index)
	}
	return vs.validators[index], nil
}

// IndexOf() finds the index of a public key
func (vs *ValidatorSet) IndexOf(publicKey crypto.PublicKeyI) (uint8, bool) {
	for _, v := range vs.validators {
		if v.PublicKey.Equals(publicKey) {
			return v.Index, true
		}
	}
	return 0, false
}

// Validators() returns the ordered committee
func (vs *ValidatorSet) Validators() []*Validator { return vs.validators }

// PublicKeys() returns the ordered raw public keys
func (vs *ValidatorSet) PublicKeys() (keys [][]byte) {
	for _, v := range vs.validators {
		keys = append(keys, v.PublicKey.Bytes())
	}
	return
}

// MultiKey() returns a fresh copy of the aggregate key, or false when some member is not BLS
func (vs *ValidatorSet) MultiKey() (crypto.MultiPublicKeyI, bool) {
	if vs.multiKey == nil {
		return nil, false
	}
	k := vs.multiKey.Copy()
	k.Reset()
	return k, true
}

// jsonValidatorSet is the file representation of a committee
type jsonValidatorSet struct {
	PublicKeys []HexBytes `json:"publicKeys"`
}

// MarshalJSON() implements the json.Marshaller interface
func (vs *ValidatorSet) MarshalJSON() ([]byte, error) {
	j := jsonValidatorSet{}
	for _, k := range vs.PublicKeys() {
		j.PublicKeys = append(j.PublicKeys, k)
	}
	return json.Marshal(j)
}

// UnmarshalJSON() implements the json.Unmarshaler interface
func (vs *ValidatorSet) UnmarshalJSON(b []byte) error {
	j := new(jsonValidatorSet)
	if err := json.Unmarshal(b, j); err != nil {
		return err
	}
	keys := make([][]byte, 0, len(j.PublicKeys))
	for _, k := range j.PublicKeys {
		keys = append(keys, k)
	}
	set, err := NewValidatorSetFromBytes(keys)
	if err != nil {
		return err
	}
	*vs = *set
	return nil
}
