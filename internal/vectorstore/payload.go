package vectorstore

import (
	"encoding/json"
	"fmt"
)

// Engine-side payload keys. Metadata travels as one JSON string so values
// keep their types across engines that only store flat strings.
const (
	payloadID       = "id"
	payloadContent  = "content"
	payloadMetadata = "metadata_json"
	payloadFileID   = "file_id"
)

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// flatPayload returns the string payload stored alongside each vector.
func flatPayload(doc Document) (map[string]string, error) {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}
	p := map[string]string{
		payloadID:       doc.ID,
		payloadMetadata: meta,
	}
	if fileID, ok := doc.Metadata[payloadFileID].(string); ok && fileID != "" {
		p[payloadFileID] = fileID
	}
	return p, nil
}
