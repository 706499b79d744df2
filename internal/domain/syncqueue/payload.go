package syncqueue

import (
	jsoniter "github.com/json-iterator/go"
)

var payloadJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodePayload snapshots an entity for the queue. The snapshot is what the
// gateway sends, so it uses the entity's json tags as the wire names.
func EncodePayload(entity any) ([]byte, error) {
	return payloadJSON.Marshal(entity)
}

// DecodePayload reads a queued snapshot back as loose fields.
func DecodePayload(payload []byte) (map[string]any, error) {
	var out map[string]any
	if err := payloadJSON.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
