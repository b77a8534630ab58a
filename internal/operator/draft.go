package operator

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// Timestamp is a point in time as seconds and nanoseconds since the Unix epoch.
type Timestamp struct {
	Seconds int64 `json:"seconds" yaml:"seconds"`
	Nanos   int32 `json:"nanos" yaml:"nanos"`
}

// TimestampOf converts t.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the timestamp as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// Draft is the string-typed form of a record used at the API boundary.
// Keys, key ids and digests are in their textual encodings.
type Draft struct {
	Prev      string       `json:"prev,omitempty" yaml:"prev,omitempty"`
	Version   uint32       `json:"version" yaml:"version"`
	Timestamp Timestamp    `json:"timestamp" yaml:"timestamp"`
	Entries   []DraftEntry `json:"entries" yaml:"entries"`
}

// DraftEntry holds exactly one operation.
type DraftEntry struct {
	Init       *DraftInit       `json:"init,omitempty" yaml:"init,omitempty"`
	GrantFlat  *DraftGrantFlat  `json:"grant_flat,omitempty" yaml:"grant_flat,omitempty"`
	RevokeFlat *DraftRevokeFlat `json:"revoke_flat,omitempty" yaml:"revoke_flat,omitempty"`
}

type DraftInit struct {
	HashAlgorithm string `json:"hash_algorithm" yaml:"hash_algorithm"`
	Key           string `json:"key" yaml:"key"`
}

type DraftGrantFlat struct {
	Key        string `json:"key" yaml:"key"`
	Permission string `json:"permission" yaml:"permission"`
}

type DraftRevokeFlat struct {
	KeyID      string `json:"key_id" yaml:"key_id"`
	Permission string `json:"permission" yaml:"permission"`
}

// Record converts d to a typed record. Failures carry the encode error kinds.
func (d Draft) Record() (*Record, error) {
	if d.Timestamp.Seconds < 0 || d.Timestamp.Nanos < 0 || d.Timestamp.Nanos >= 1e9 {
		return nil, fmt.Errorf("%w: seconds=%d nanos=%d", ErrTimestampOutOfRange, d.Timestamp.Seconds, d.Timestamp.Nanos)
	}
	r := &Record{
		Version:   d.Version,
		Timestamp: d.Timestamp.Time(),
		Entries:   make([]Entry, 0, len(d.Entries)),
	}
	if d.Prev != "" {
		prev, err := hash.Parse(d.Prev)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrevRecordIDInvalidFormat, err)
		}
		r.Prev = &prev
	}

	for i, de := range d.Entries {
		e, err := de.entry()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		r.Entries = append(r.Entries, e)
	}
	return r, nil
}

func (de DraftEntry) entry() (Entry, error) {
	set := 0
	for _, ok := range []bool{de.Init != nil, de.GrantFlat != nil, de.RevokeFlat != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: entry must hold exactly one operation, has %d", ErrUnknownOperatorEntry, set)
	}

	switch {
	case de.Init != nil:
		alg, err := hash.ParseAlgorithm(de.Init.HashAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, err)
		}
		key, err := signing.ParsePublicKey(de.Init.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyParseFailure, err)
		}
		return Init{HashAlgorithm: alg, Key: key}, nil
	case de.GrantFlat != nil:
		key, err := signing.ParsePublicKey(de.GrantFlat.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyParseFailure, err)
		}
		perm, err := ParsePermission(de.GrantFlat.Permission)
		if err != nil {
			return nil, err
		}
		return GrantFlat{Key: key, Permission: perm}, nil
	default:
		perm, err := ParsePermission(de.RevokeFlat.Permission)
		if err != nil {
			return nil, err
		}
		return RevokeFlat{KeyID: signing.KeyID(de.RevokeFlat.KeyID), Permission: perm}, nil
	}
}

// DraftFromRecord converts r to its string-typed form.
func DraftFromRecord(r *Record) (Draft, error) {
	d := Draft{
		Version:   r.Version,
		Timestamp: TimestampOf(r.Timestamp),
		Entries:   make([]DraftEntry, 0, len(r.Entries)),
	}
	if r.Prev != nil {
		d.Prev = r.Prev.String()
	}
	for i, e := range r.Entries {
		switch e := e.(type) {
		case Init:
			d.Entries = append(d.Entries, DraftEntry{Init: &DraftInit{
				HashAlgorithm: e.HashAlgorithm.String(),
				Key:           e.Key.String(),
			}})
		case GrantFlat:
			if !e.Permission.Valid() {
				return Draft{}, fmt.Errorf("entry %d: %w: %d", i, ErrUnknownOperatorPermission, e.Permission)
			}
			d.Entries = append(d.Entries, DraftEntry{GrantFlat: &DraftGrantFlat{
				Key:        e.Key.String(),
				Permission: e.Permission.String(),
			}})
		case RevokeFlat:
			if !e.Permission.Valid() {
				return Draft{}, fmt.Errorf("entry %d: %w: %d", i, ErrUnknownOperatorPermission, e.Permission)
			}
			d.Entries = append(d.Entries, DraftEntry{RevokeFlat: &DraftRevokeFlat{
				KeyID:      e.KeyID.String(),
				Permission: e.Permission.String(),
			}})
		default:
			return Draft{}, fmt.Errorf("entry %d: %w: %T", i, ErrUnknownOperatorEntry, e)
		}
	}
	return d, nil
}

// EncodedRecord is the result of encoding a draft.
type EncodedRecord struct {
	ContentBytes []byte      `json:"content_bytes"`
	RecordID     hash.Digest `json:"record_id"`
}

// EncodeDraft converts and encodes d. The record id uses the algorithm the
// record implies: its Init entry's, else its prev digest's, else sha256.
func EncodeDraft(d Draft) (*EncodedRecord, error) {
	r, err := d.Record()
	if err != nil {
		return nil, err
	}
	content, err := Encode(r)
	if err != nil {
		return nil, err
	}
	return &EncodedRecord{ContentBytes: content, RecordID: RecordID(impliedAlgorithm(r), content)}, nil
}

// DecodeDraft decodes canonical bytes into a draft.
func DecodeDraft(b []byte) (Draft, error) {
	r, err := Decode(b)
	if err != nil {
		return Draft{}, err
	}
	return DraftFromRecord(r)
}

func impliedAlgorithm(r *Record) hash.Algorithm {
	for _, e := range r.Entries {
		if init, ok := e.(Init); ok {
			return init.HashAlgorithm
		}
	}
	if r.Prev != nil {
		return r.Prev.Algorithm
	}
	return hash.SHA256
}
