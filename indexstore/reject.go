package indexstore

import "encoding/json"

// rejectPartition is the fixed partition the Live Listener's reject table
// lives under (spec.md §4.G): one row per transaction id this node's peers
// have rejected when broadcast.
const rejectPartition = "rejects"

// RejectRecord is the persisted reason a broadcast transaction was
// rejected by the network.
type RejectRecord struct {
	Code   uint32 `json:"code"`
	Reason string `json:"reason"`
}

// SaveReject idempotently upserts the reject record for txID: a later
// reject for the same transaction simply overwrites the prior reason.
func (s *Store) SaveReject(txID string, rec RejectRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Upsert(rejectPartition, txID, b)
}

// GetReject reads back a transaction's reject record, if any.
func (s *Store) GetReject(txID string) (RejectRecord, bool, error) {
	b, found, err := s.Get(rejectPartition, txID)
	if err != nil || !found {
		return RejectRecord{}, found, err
	}
	var rec RejectRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return RejectRecord{}, false, err
	}
	return rec, true, nil
}
