package main

import "github.com/bytedance/sonic"

var fastJSON = sonic.ConfigDefault

// fastJSONMarshal encodes v as JSON using the Sonic encoder. Prefer this on
// hot paths (summary refresh, status API) over encoding/json.
func fastJSONMarshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

// fastJSONUnmarshal decodes JSON data into v using Sonic. It is a drop-in
// replacement for encoding/json.Unmarshal for typical Go structs.
func fastJSONUnmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
