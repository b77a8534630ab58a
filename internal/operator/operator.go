// Package operator implements the operator log: an append-only, signed
// sequence of records that decides which public keys may commit to the
// other logs of a registry.
//
// The package provides:
//   - the record model (Record, Entry variants, Permission)
//   - the canonical codec (Encode, Decode, EncodeDraft)
//   - LogState, the validation state machine behind Validate and Append
//   - the error taxonomy, with Code for stable error names
//
// LogState holds no locks; callers serialise access to one instance.
package operator

import "github.com/jmerrifield20/operatorlog/pkg/hash"

const (
	logIDLabel    = "WARG-OPERATOR-LOG-ID-V0"
	signingPrefix = "WARG-OPERATOR-LOG-SIGNATURE-V0"
)

// operatorLogID identifies the operator log kind. It depends only on the
// label and the primitive hash, never on log content.
var operatorLogID = hash.Of(hash.SHA256, []byte(logIDLabel))

// LogID returns the identifier of the operator log.
func LogID() hash.Digest {
	return hash.Digest{
		Algorithm: operatorLogID.Algorithm,
		Bytes:     append([]byte(nil), operatorLogID.Bytes...),
	}
}

// SigningPrefix returns the bytes prepended to a record's content before it
// is signed, so operator record signatures cannot be replayed elsewhere.
func SigningPrefix() []byte {
	return []byte(signingPrefix)
}

// SigningPayload returns the message a signer signs for contentBytes:
// SigningPrefix() followed by contentBytes.
func SigningPayload(contentBytes []byte) []byte {
	msg := make([]byte, 0, len(signingPrefix)+len(contentBytes))
	msg = append(msg, signingPrefix...)
	return append(msg, contentBytes...)
}
