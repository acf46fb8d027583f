package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MakeKey creates a standardized key for a document.
func MakeKey(kind, name string) []byte {
	return []byte(fmt.Sprintf("%s/%s", kind, name))
}

// MakePrefix creates a prefix for listing documents of a kind.
func MakePrefix(kind string) []byte {
	return []byte(kind + "/")
}

// decodeList joins raw JSON documents into an array and decodes it into out.
func decodeList(docs [][]byte, out interface{}) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(d)
	}
	buf.WriteByte(']')
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("failed to deserialize list: %w", err)
	}
	return nil
}
