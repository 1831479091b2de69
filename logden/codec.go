package logden

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec translates application values to and from the raw blocks stored in
// a log. A codec is configured per log (LogOptions.Codec) and per extension
// channel (ExtensionOptions.Codec).
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(b []byte) (any, error)
}

var DefaultCodec Codec = &BinaryCodec{}

// passthrough. Accepts []byte or string, decodes to []byte.
type BinaryCodec struct{}

func (self *BinaryCodec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("Binary codec needs []byte or string: %T", v)
	}
}

func (self *BinaryCodec) Decode(b []byte) (any, error) {
	return b, nil
}

// like BinaryCodec but decodes to string
type Utf8Codec struct{}

func (self *Utf8Codec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("Utf8 codec needs []byte or string: %T", v)
	}
}

func (self *Utf8Codec) Decode(b []byte) (any, error) {
	return string(b), nil
}

type JsonCodec struct{}

func (self *JsonCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (self *JsonCodec) Decode(b []byte) (any, error) {
	var value any
	if err := json.Unmarshal(b, &value); err != nil {
		return nil, err
	}
	return value, nil
}

type CborCodec struct{}

func (self *CborCodec) Encode(value any) ([]byte, error) {
	return cbor.Marshal(value)
}

func (self *CborCodec) Decode(b []byte) (any, error) {
	var value any
	if err := cbor.Unmarshal(b, &value); err != nil {
		return nil, err
	}
	return value, nil
}
