package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrDecode marks bytes that are not a well-formed CBOR item.
	ErrDecode = errors.New("codec: decode error")
	// ErrIncomplete means the buffer holds the start of an item but not all of it.
	ErrIncomplete = errors.New("codec: incomplete item")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Dates travel as tag 0 so they decode back into time.Time.
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TimeTag = cbor.EncTagRequired
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Peers only send text keys; map[string]any is what the classifier expects.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes v as a single CBOR item.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode parses exactly one CBOR item. Trailing bytes are an error.
func Decode(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// DecodeFirst parses the first CBOR item in data and returns the bytes after it.
//
// When data ends in the middle of an item it returns ErrIncomplete and data
// unchanged, so the caller can wait for more bytes. A malformed item returns
// ErrDecode and a nil rest: there is no reliable way to resynchronize inside
// a broken item. A well-formed item whose content cannot be represented
// (non-text map keys, for instance) returns ErrDecode with the rest intact.
func DecodeFirst(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, data, ErrIncomplete
	}

	var raw cbor.RawMessage
	rest, err := decMode.UnmarshalFirst(data, &raw)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, data, ErrIncomplete
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, rest, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, rest, nil
}

// Decoder reads consecutive CBOR items from a stream.
type Decoder = cbor.Decoder

// NewDecoder returns a stream decoder using the relay's decoding options.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// NewEncoder returns a stream encoder using the relay's encoding options.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}
