package operator

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// Decode errors.
var (
	ErrFailedToDecode            = errors.New("operator: failed to decode record")
	ErrUnknownOperatorEntry      = errors.New("operator: unknown operator entry")
	ErrUnknownOperatorPermission = errors.New("operator: unknown operator permission")
)

// Encode errors.
var (
	ErrPrevRecordIDInvalidFormat = errors.New("operator: previous record id has invalid format")
	ErrUnsupportedHashAlgorithm  = errors.New("operator: unsupported hash algorithm")
	ErrPublicKeyParseFailure     = errors.New("operator: failed to parse public key")
	ErrTimestampOutOfRange       = errors.New("operator: timestamp out of range")
)

// Validation errors. Errors that carry context are the struct types below;
// each unwraps to its sentinel here.
var (
	ErrPreviousHashOnFirstRecord  = errors.New("operator: first record must not reference a previous record")
	ErrNoPreviousHashAfterInit    = errors.New("operator: record after init must reference the previous record")
	ErrRecordHashDoesNotMatch     = errors.New("operator: previous record hash does not match head")
	ErrFirstEntryIsNotInit        = errors.New("operator: first entry of the log is not init")
	ErrInitialRecordDoesNotInit   = errors.New("operator: initial record does not initialise the log")
	ErrInitialEntryAfterBeginning = errors.New("operator: init entry after the beginning of the log")
	ErrIncorrectHashAlgorithm     = errors.New("operator: incorrect hash algorithm")
	ErrProtocolVersionNotAllowed  = errors.New("operator: protocol version not allowed")
	ErrTimestampLowerThanPrevious = errors.New("operator: timestamp lower than previous record")
	ErrKeyIDNotRecognized         = errors.New("operator: key id not recognized")
	ErrSignatureInvalid           = errors.New("operator: signature invalid")
	ErrSignatureParseFailure      = errors.New("operator: failed to parse signature")
	ErrUnauthorizedAction         = errors.New("operator: unauthorized action")
	ErrPermissionNotFoundToRevoke = errors.New("operator: permission not found to revoke")
	ErrFailedToDecodeRecord       = errors.New("operator: failed to decode operator record")
)

// IncorrectHashAlgorithmError reports a digest produced with an algorithm
// other than the one the log was initialised with.
type IncorrectHashAlgorithmError struct {
	Found    hash.Algorithm
	Expected hash.Algorithm
}

func (e *IncorrectHashAlgorithmError) Error() string {
	return fmt.Sprintf("%v: found %s, expected %s", ErrIncorrectHashAlgorithm, e.Found, e.Expected)
}

func (e *IncorrectHashAlgorithmError) Unwrap() error { return ErrIncorrectHashAlgorithm }

// ProtocolVersionNotAllowedError reports a record version outside the
// accepted range.
type ProtocolVersionNotAllowedError struct {
	Version uint32
}

func (e *ProtocolVersionNotAllowedError) Error() string {
	return fmt.Sprintf("%v: %d", ErrProtocolVersionNotAllowed, e.Version)
}

func (e *ProtocolVersionNotAllowedError) Unwrap() error { return ErrProtocolVersionNotAllowed }

// KeyIDNotRecognizedError reports a signer the log does not know.
type KeyIDNotRecognizedError struct {
	KeyID signing.KeyID
}

func (e *KeyIDNotRecognizedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrKeyIDNotRecognized, e.KeyID)
}

func (e *KeyIDNotRecognizedError) Unwrap() error { return ErrKeyIDNotRecognized }

// UnauthorizedActionError reports a signer lacking the permission an entry needs.
type UnauthorizedActionError struct {
	KeyID            signing.KeyID
	NeededPermission Permission
}

func (e *UnauthorizedActionError) Error() string {
	return fmt.Sprintf("%v: %s needs %s", ErrUnauthorizedAction, e.KeyID, e.NeededPermission)
}

func (e *UnauthorizedActionError) Unwrap() error { return ErrUnauthorizedAction }

// PermissionNotFoundToRevokeError reports a revoke of a permission the
// target does not hold.
type PermissionNotFoundToRevokeError struct {
	KeyID      signing.KeyID
	Permission Permission
}

func (e *PermissionNotFoundToRevokeError) Error() string {
	return fmt.Sprintf("%v: %s does not hold %s", ErrPermissionNotFoundToRevoke, e.KeyID, e.Permission)
}

func (e *PermissionNotFoundToRevokeError) Unwrap() error { return ErrPermissionNotFoundToRevoke }

// codes maps every sentinel to the stable name exposed over the API.
var codes = []struct {
	err  error
	code string
}{
	{ErrFailedToDecode, "FailedToDecode"},
	{ErrUnknownOperatorEntry, "UnknownOperatorEntry"},
	{ErrUnknownOperatorPermission, "UnknownOperatorPermission"},
	{ErrPrevRecordIDInvalidFormat, "PrevRecordIdInvalidFormat"},
	{ErrUnsupportedHashAlgorithm, "UnsupportedHashAlgorithm"},
	{ErrPublicKeyParseFailure, "PublicKeyParseFailure"},
	{ErrTimestampOutOfRange, "TimestampOutOfRange"},
	{ErrPreviousHashOnFirstRecord, "PreviousHashOnFirstRecord"},
	{ErrNoPreviousHashAfterInit, "NoPreviousHashAfterInit"},
	{ErrRecordHashDoesNotMatch, "RecordHashDoesNotMatch"},
	{ErrFirstEntryIsNotInit, "FirstEntryIsNotInit"},
	{ErrInitialRecordDoesNotInit, "InitialRecordDoesNotInit"},
	{ErrInitialEntryAfterBeginning, "InitialEntryAfterBeginning"},
	{ErrIncorrectHashAlgorithm, "IncorrectHashAlgorithm"},
	{ErrProtocolVersionNotAllowed, "ProtocolVersionNotAllowed"},
	{ErrTimestampLowerThanPrevious, "TimestampLowerThanPrevious"},
	{ErrKeyIDNotRecognized, "KeyIDNotRecognized"},
	{ErrSignatureInvalid, "SignatureInvalid"},
	{ErrSignatureParseFailure, "SignatureParseFailure"},
	{ErrUnauthorizedAction, "UnauthorizedAction"},
	{ErrPermissionNotFoundToRevoke, "PermissionNotFoundToRevoke"},
}

// Code returns the stable name of the taxonomy error in err's chain, or ""
// when err is not an operator error. ErrFailedToDecodeRecord wraps the
// underlying decode error; the outer kind wins.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrFailedToDecodeRecord) {
		return "FailedToDecodeOperatorRecord"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
