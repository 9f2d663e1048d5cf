package election

import "encoding/json"

// Snapshot is the persisted election state. ElectedID is the externally
// visible identity (possibly a derived worker identity); ElectedBaseID is the
// underlying member id used for ordering comparisons; ElectionSequence is the
// op-sequence value at which the snapshot was last established or refreshed.
type Snapshot struct {
    ElectedID        string `json:"electedId,omitempty"`
    ElectedBaseID    string `json:"electedBaseId,omitempty"`
    ElectionSequence uint64 `json:"electionSequence"`
}

// Encode serializes the snapshot as stable JSON for persistence by the caller.
func (s Snapshot) Encode() ([]byte, error) {
    return json.Marshal(s)
}

// DecodeSnapshot restores a snapshot previously produced by Encode.
func DecodeSnapshot(buf []byte) (Snapshot, error) {
    var s Snapshot
    if err := json.Unmarshal(buf, &s); err != nil {
        return Snapshot{}, err
    }
    return s, nil
}
