package operator

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// Field numbers of the protobuf wire format. Changing any of them is a
// breaking format change.
const (
	fieldRecordPrev    protowire.Number = 1
	fieldRecordVersion protowire.Number = 2
	fieldRecordTime    protowire.Number = 3
	fieldRecordEntries protowire.Number = 4

	fieldEntryInit       protowire.Number = 1
	fieldEntryGrantFlat  protowire.Number = 2
	fieldEntryRevokeFlat protowire.Number = 3

	fieldInitKey       protowire.Number = 1
	fieldInitAlgorithm protowire.Number = 2

	fieldGrantKey        protowire.Number = 1
	fieldGrantPermission protowire.Number = 2

	fieldRevokeKeyID      protowire.Number = 1
	fieldRevokePermission protowire.Number = 2
)

var deterministic = proto.MarshalOptions{Deterministic: true}

// RecordID returns the id of a record with the given canonical bytes in a
// log that uses alg.
func RecordID(alg hash.Algorithm, contentBytes []byte) hash.Digest {
	return hash.Of(alg, contentBytes)
}

// Encode returns the canonical bytes of r. The same logical record always
// yields the same bytes.
func Encode(r *Record) ([]byte, error) {
	var b []byte
	if r.Prev != nil {
		if !r.Prev.Algorithm.Supported() || len(r.Prev.Bytes) != r.Prev.Algorithm.Size() {
			return nil, fmt.Errorf("%w: %q", ErrPrevRecordIDInvalidFormat, r.Prev.String())
		}
		b = protowire.AppendTag(b, fieldRecordPrev, protowire.BytesType)
		b = protowire.AppendString(b, r.Prev.String())
	}
	if r.Version != 0 {
		b = protowire.AppendTag(b, fieldRecordVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Version))
	}

	ts, err := encodeTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldRecordTime, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	for i, e := range r.Entries {
		eb, err := encodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		b = protowire.AppendTag(b, fieldRecordEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b, nil
}

func encodeTimestamp(t time.Time) ([]byte, error) {
	if t.Before(time.Unix(0, 0)) {
		return nil, fmt.Errorf("%w: %s is before the Unix epoch", ErrTimestampOutOfRange, t)
	}
	ts := timestamppb.New(t)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampOutOfRange, err)
	}
	b, err := deterministic.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampOutOfRange, err)
	}
	return b, nil
}

func encodeEntry(e Entry) ([]byte, error) {
	var (
		field protowire.Number
		inner []byte
	)
	switch e := e.(type) {
	case Init:
		if !e.HashAlgorithm.Supported() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedHashAlgorithm, e.HashAlgorithm)
		}
		if e.Key.IsZero() {
			return nil, fmt.Errorf("%w: init key is empty", ErrPublicKeyParseFailure)
		}
		field = fieldEntryInit
		inner = appendString(inner, fieldInitKey, e.Key.String())
		inner = appendString(inner, fieldInitAlgorithm, e.HashAlgorithm.String())
	case GrantFlat:
		if e.Key.IsZero() {
			return nil, fmt.Errorf("%w: grant key is empty", ErrPublicKeyParseFailure)
		}
		if !e.Permission.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, e.Permission)
		}
		field = fieldEntryGrantFlat
		inner = appendString(inner, fieldGrantKey, e.Key.String())
		inner = appendEnum(inner, fieldGrantPermission, uint64(e.Permission))
	case RevokeFlat:
		if !e.Permission.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, e.Permission)
		}
		field = fieldEntryRevokeFlat
		inner = appendString(inner, fieldRevokeKeyID, e.KeyID.String())
		inner = appendEnum(inner, fieldRevokePermission, uint64(e.Permission))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOperatorEntry, e)
	}

	var b []byte
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendEnum(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Decode parses canonical record bytes. Input that is malformed, carries
// unknown fields or is not in canonical form fails with ErrFailedToDecode;
// unknown entry kinds and permissions fail with ErrUnknownOperatorEntry and
// ErrUnknownOperatorPermission.
func Decode(b []byte) (*Record, error) {
	r := &Record{}
	seen := make(map[protowire.Number]bool)
	input := b
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeErr("record tag", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldRecordEntries && seen[num] {
			return nil, fmt.Errorf("%w: duplicate field %d", ErrFailedToDecode, num)
		}
		seen[num] = true

		switch num {
		case fieldRecordPrev:
			s, n, err := consumeString(b, typ)
			if err != nil {
				return nil, decodeErr("prev", err)
			}
			b = b[n:]
			prev, err := hash.Parse(s)
			if err != nil {
				return nil, decodeErr("prev", err)
			}
			r.Prev = &prev
		case fieldRecordVersion:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("%w: version has wire type %d", ErrFailedToDecode, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeErr("version", protowire.ParseError(n))
			}
			if v > math.MaxUint32 {
				return nil, fmt.Errorf("%w: version %d overflows uint32", ErrFailedToDecode, v)
			}
			b = b[n:]
			r.Version = uint32(v)
		case fieldRecordTime:
			raw, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, decodeErr("time", err)
			}
			b = b[n:]
			t, err := decodeTimestamp(raw)
			if err != nil {
				return nil, err
			}
			r.Timestamp = t
		case fieldRecordEntries:
			raw, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, decodeErr("entry", err)
			}
			b = b[n:]
			e, err := decodeEntry(raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", len(r.Entries), err)
			}
			r.Entries = append(r.Entries, e)
		default:
			return nil, fmt.Errorf("%w: unknown record field %d", ErrFailedToDecode, num)
		}
	}

	canonical, err := Encode(r)
	if err != nil {
		return nil, decodeErr("re-encode", err)
	}
	if !bytes.Equal(canonical, input) {
		return nil, fmt.Errorf("%w: bytes are not in canonical form", ErrFailedToDecode)
	}
	return r, nil
}

func decodeTimestamp(raw []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(raw, &ts); err != nil {
		return time.Time{}, decodeErr("time", err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, decodeErr("time", err)
	}
	if ts.GetSeconds() < 0 {
		return time.Time{}, fmt.Errorf("%w: timestamp before the Unix epoch", ErrFailedToDecode)
	}
	return ts.AsTime(), nil
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty entry", ErrUnknownOperatorEntry)
	}
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, decodeErr("entry tag", protowire.ParseError(n))
	}
	b = b[n:]
	if num != fieldEntryInit && num != fieldEntryGrantFlat && num != fieldEntryRevokeFlat {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownOperatorEntry, num)
	}
	inner, n, err := consumeBytes(b, typ)
	if err != nil {
		return nil, decodeErr("entry body", err)
	}
	if len(b[n:]) != 0 {
		return nil, fmt.Errorf("%w: entry carries more than one operation", ErrFailedToDecode)
	}

	fields, err := decodeFields(inner)
	if err != nil {
		return nil, err
	}

	switch num {
	case fieldEntryInit:
		key, err := signing.ParsePublicKey(fields.strings[fieldInitKey])
		if err != nil {
			return nil, decodeErr("init key", err)
		}
		alg, err := hash.ParseAlgorithm(fields.strings[fieldInitAlgorithm])
		if err != nil {
			return nil, decodeErr("init hash algorithm", err)
		}
		return Init{HashAlgorithm: alg, Key: key}, nil
	case fieldEntryGrantFlat:
		key, err := signing.ParsePublicKey(fields.strings[fieldGrantKey])
		if err != nil {
			return nil, decodeErr("grant key", err)
		}
		perm, err := fields.permission(fieldGrantPermission)
		if err != nil {
			return nil, err
		}
		return GrantFlat{Key: key, Permission: perm}, nil
	default:
		perm, err := fields.permission(fieldRevokePermission)
		if err != nil {
			return nil, err
		}
		return RevokeFlat{KeyID: signing.KeyID(fields.strings[fieldRevokeKeyID]), Permission: perm}, nil
	}
}

// entryFields holds the scalar fields of one entry body. Every entry kind
// uses field 1 as a string and field 2 as either a string or an enum.
type entryFields struct {
	strings map[protowire.Number]string
	varints map[protowire.Number]uint64
}

func (f entryFields) permission(num protowire.Number) (Permission, error) {
	v := f.varints[num]
	if v > math.MaxUint8 || !Permission(v).Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, v)
	}
	return Permission(v), nil
}

func decodeFields(b []byte) (entryFields, error) {
	f := entryFields{
		strings: make(map[protowire.Number]string),
		varints: make(map[protowire.Number]uint64),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, decodeErr("entry field tag", protowire.ParseError(n))
		}
		b = b[n:]
		if num != 1 && num != 2 {
			return f, fmt.Errorf("%w: unknown entry field %d", ErrFailedToDecode, num)
		}
		_, dupS := f.strings[num]
		_, dupV := f.varints[num]
		if dupS || dupV {
			return f, fmt.Errorf("%w: duplicate entry field %d", ErrFailedToDecode, num)
		}
		switch typ {
		case protowire.BytesType:
			s, n, err := consumeString(b, typ)
			if err != nil {
				return f, decodeErr("entry field", err)
			}
			b = b[n:]
			f.strings[num] = s
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, decodeErr("entry field", protowire.ParseError(n))
			}
			b = b[n:]
			f.varints[num] = v
		default:
			return f, fmt.Errorf("%w: entry field %d has wire type %d", ErrFailedToDecode, num, typ)
		}
	}
	return f, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(b []byte, typ protowire.Type) (string, int, error) {
	v, n, err := consumeBytes(b, typ)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

func decodeErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrFailedToDecode, what, err)
}
