package recordstore

import (
	"errors"
	"time"
)

var (
	// ErrConflict is returned by Append when the record's index is not the
	// current length of the store.
	ErrConflict = errors.New("recordstore: index conflict")
	// ErrNotFound is returned by Get for an index outside the store.
	ErrNotFound = errors.New("recordstore: record not found")
)

// StoredRecord is one accepted record as persisted.
type StoredRecord struct {
	Index        int       `json:"index"`
	RecordID     string    `json:"record_id"`
	Prev         string    `json:"prev,omitempty"`
	KeyID        string    `json:"key_id"`
	Signature    string    `json:"signature"`
	ContentBytes []byte    `json:"content_bytes"`
	Timestamp    time.Time `json:"timestamp"`   // the record's own timestamp
	AcceptedAt   time.Time `json:"accepted_at"` // when this node stored it
}

func (r *StoredRecord) clone() *StoredRecord {
	c := *r
	c.ContentBytes = append([]byte(nil), r.ContentBytes...)
	return &c
}
