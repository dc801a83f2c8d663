package lib

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
	Canonical binary encoding. Every structure that is hashed, signed, stored or sent over the wire is written
	as protobuf wire format with fields in ascending number order and proto3 default values omitted, so two
	honest nodes always produce identical bytes for identical values.
*/

// ProtoWriter appends protobuf wire fields to a buffer
type ProtoWriter struct{ buf []byte }

// NewProtoWriter() returns an empty writer
func NewProtoWriter() *ProtoWriter { return &ProtoWriter{} }

// Uint() writes a varint field; zero is omitted
func (w *ProtoWriter) Uint(num protowire.Number, v uint64) *ProtoWriter {
	if v == 0 {
		return w
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
	return w
}

// Bool() writes a boolean field; false is omitted
func (w *ProtoWriter) Bool(num protowire.Number, v bool) *ProtoWriter {
	if !v {
		return w
	}
	return w.Uint(num, 1)
}

// Bytes() writes a length delimited field; empty is omitted
func (w *ProtoWriter) Bytes(num protowire.Number, b []byte) *ProtoWriter {
	if len(b) == 0 {
		return w
	}
	return w.Message(num, b)
}

// String() writes a string field; empty is omitted
func (w *ProtoWriter) String(num protowire.Number, s string) *ProtoWriter {
	return w.Bytes(num, []byte(s))
}

// Message() writes an embedded message; always written so presence survives the round trip
func (w *ProtoWriter) Message(num protowire.Number, b []byte) *ProtoWriter {
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, b)
	return w
}

// RepeatedBytes() writes every element, including empty ones
func (w *ProtoWriter) RepeatedBytes(num protowire.Number, list [][]byte) *ProtoWriter {
	for _, b := range list {
		w.Message(num, b)
	}
	return w
}

// Out() returns the encoded bytes
func (w *ProtoWriter) Out() []byte { return w.buf }

// ProtoField is a single decoded field; Varint is set for varint fields, Bytes for length delimited ones
type ProtoField struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// ReadProtoFields() walks the fields of a protobuf wire message; unknown wire types are skipped
func ReadProtoFields(bz []byte, fn func(f ProtoField) ErrorI) ErrorI {
	for len(bz) > 0 {
		num, typ, n := protowire.ConsumeTag(bz)
		if n < 0 {
			return ErrUnmarshal(protowire.ParseError(n))
		}
		bz = bz[n:]
		field := ProtoField{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			field.Varint, n = protowire.ConsumeVarint(bz)
		case protowire.BytesType:
			field.Bytes, n = protowire.ConsumeBytes(bz)
		default:
			n = protowire.ConsumeFieldValue(num, typ, bz)
		}
		if n < 0 {
			return ErrUnmarshal(protowire.ParseError(n))
		}
		bz = bz[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(field); err != nil {
			return err
		}
	}
	return nil
}

// Uint8() narrows a varint into a uint8 field
func (f ProtoField) Uint8() (uint8, ErrorI) {
	if f.Varint > 0xFF {
		return 0, ErrUnmarshal(fmt.Errorf("field %d overflows uint8: %d", f.Num, f.Varint))
	}
	return uint8(f.Varint), nil
}

// Uint32() narrows a varint into a uint32 field
func (f ProtoField) Uint32() (uint32, ErrorI) {
	if f.Varint > 0xFFFFFFFF {
		return 0, ErrUnmarshal(fmt.Errorf("field %d overflows uint32: %d", f.Num, f.Varint))
	}
	return uint32(f.Varint), nil
}

// CopyBytes() returns a copy of a length delimited value so decoded structures never alias the input
func (f ProtoField) CopyBytes() []byte {
	if f.Bytes == nil {
		return nil
	}
	return append([]byte{}, f.Bytes...)
}
