package wire

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeJSON writes v as one line of JSON.
func EncodeJSON(w io.Writer, v any) error {
	return jsonAPI.NewEncoder(w).Encode(v)
}

// MarshalJSON returns the JSON encoding of v.
func MarshalJSON(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}
