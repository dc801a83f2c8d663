package lib

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"runtime/debug"
)

// MarshalJSON() serializes an object into JSON bytes
func MarshalJSON(message any) ([]byte, ErrorI) {
	bz, err := json.Marshal(message)
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// MarshalJSONIndent() serializes an object into indented 'pretty' JSON bytes
func MarshalJSONIndent(message any) ([]byte, ErrorI) {
	bz, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// UnmarshalJSON() deserializes JSON bytes into the object pointer
func UnmarshalJSON(bz []byte, ptr any) ErrorI {
	if err := json.Unmarshal(bz, ptr); err != nil {
		return ErrJSONUnmarshal(err)
	}
	return nil
}

// BytesToString() converts bytes to a hex string
func BytesToString(b []byte) string { return hex.EncodeToString(b) }

// StringToBytes() converts a hex string to bytes
func StringToBytes(s string) ([]byte, ErrorI) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrJSONUnmarshal(err)
	}
	return b, nil
}

// BytesToTruncatedString() converts bytes to a hex string, truncated to 10 bytes for logging
func BytesToTruncatedString(b []byte) string {
	if len(b) > 10 {
		return hex.EncodeToString(b[:10])
	}
	return hex.EncodeToString(b)
}

// HexBytes is a byte slice that marshals to a hex string in JSON
type HexBytes []byte

// NewHexBytesFromString() parses a hex string
func NewHexBytesFromString(s string) (HexBytes, ErrorI) {
	bz, err := StringToBytes(s)
	return bz, err
}

// String() returns the hex representation
func (x HexBytes) String() string { return BytesToString(x) }

// MarshalJSON() implements json.Marshaller
func (x HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(BytesToString(x)) }

// UnmarshalJSON() implements json.Unmarshaler
func (x *HexBytes) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return
	}
	*x, err = StringToBytes(s)
	return
}

// CatchPanic() logs the stack of a recovered panic
func CatchPanic(l LoggerI) {
	if r := recover(); r != nil {
		l.Errorf("recovered from panic: %v\n%s", r, string(debug.Stack()))
	}
}

// HexBytesToBytes() converts a list of HexBytes into raw byte slices without copying
func HexBytesToBytes(list []HexBytes) [][]byte {
	out := make([][]byte, len(list))
	for i, b := range list {
		out[i] = b
	}
	return out
}

// Append() returns a new slice of a followed by b without aliasing either
func Append(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

// JoinLenPrefix() appends the items together separated by a single byte to represent the length of the segment
func JoinLenPrefix(toAppend ...[]byte) (res []byte) {
	for _, a := range toAppend {
		if a == nil {
			continue
		}
		res = append(res, byte(len(a)))
		res = append(res, a...)
	}
	return
}

// Uint32ToBigEndian() encodes a height so keys sort in numeric order
func Uint32ToBigEndian(u uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, u)
	return b
}

// BigEndianToUint32() decodes a big endian height; short input decodes to zero
func BigEndianToUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// TruncateSlice() safely ensures that a slice doesn't exceed a max size
func TruncateSlice[T any](slice []T, max int) []T {
	if slice == nil {
		return nil
	}
	if len(slice) > max {
		return slice[:max]
	}
	return slice
}

// DeDuplicator is a bounded generic de-duplication set; once full it forgets everything
type DeDuplicator[T comparable] struct {
	m     map[T]struct{}
	limit int
}

// NewDeDuplicator() constructs a DeDuplicator that resets after `limit` entries (0 = unbounded)
func NewDeDuplicator[T comparable](limit int) *DeDuplicator[T] {
	return &DeDuplicator[T]{m: make(map[T]struct{}), limit: limit}
}

// Found() checks for an existing entry and adds it to the map if it's not present
func (d *DeDuplicator[T]) Found(k T) bool {
	// check if the key already exists
	if _, exists := d.m[k]; exists {
		return true // It's a duplicate
	}
	// bound memory
	if d.limit > 0 && len(d.m) >= d.limit {
		d.Reset()
	}
	// add the key to the map
	d.m[k] = struct{}{}
	// not a duplicate
	return false
}

// Has() checks for an entry without adding it
func (d *DeDuplicator[T]) Has(k T) bool {
	_, exists := d.m[k]
	return exists
}

// Delete() forgets a single entry
func (d *DeDuplicator[T]) Delete(k T) { delete(d.m, k) }

// Len() returns the number of remembered entries
func (d *DeDuplicator[T]) Len() int { return len(d.m) }

// Reset() forgets every entry
func (d *DeDuplicator[T]) Reset() { d.m = make(map[T]struct{}) }
