package queue

import "encoding/json"

// JSONEncoder implements Encoder with canonical JSON, matching the wire
// format used for every other protocol payload.
type JSONEncoder struct{}

// Encode serializes snapshot to JSON.
func (JSONEncoder) Encode(snapshot Snapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

// Decode parses a JSON-encoded snapshot.
func (JSONEncoder) Decode(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
