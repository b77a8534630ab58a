package operator_test

import (
	"testing"
	"time"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func newKey(t *testing.T) *signing.PrivateKey {
	t.Helper()
	k, err := signing.GenerateKey(signing.ECDSAP256)
	require.NoError(t, err)
	return k
}

// signed encodes rec and signs it with key, claiming key's own id.
func signed(t *testing.T, key *signing.PrivateKey, rec *operator.Record) operator.Envelope {
	t.Helper()
	return signedAs(t, key, key.Public().Fingerprint(), rec)
}

// signedAs signs rec with key but claims keyID as the signer.
func signedAs(t *testing.T, key *signing.PrivateKey, keyID signing.KeyID, rec *operator.Record) operator.Envelope {
	t.Helper()
	content, err := operator.Encode(rec)
	require.NoError(t, err)
	sig, err := key.Sign(operator.SigningPayload(content))
	require.NoError(t, err)
	return operator.Envelope{ContentBytes: content, KeyID: keyID, Signature: sig.String()}
}

func initRecord(founder *signing.PrivateKey, extra ...operator.Entry) *operator.Record {
	entries := []operator.Entry{operator.Init{HashAlgorithm: hash.SHA256, Key: founder.Public()}}
	return &operator.Record{
		Timestamp: t0,
		Entries:   append(entries, extra...),
	}
}

func nextRecord(prev hash.Digest, at time.Time, entries ...operator.Entry) *operator.Record {
	return &operator.Record{Prev: &prev, Timestamp: at, Entries: entries}
}

func grant(k *signing.PrivateKey) operator.GrantFlat {
	return operator.GrantFlat{Key: k.Public(), Permission: operator.PermissionCommit}
}

func revoke(k *signing.PrivateKey) operator.RevokeFlat {
	return operator.RevokeFlat{KeyID: k.Public().Fingerprint(), Permission: operator.PermissionCommit}
}

// bootstrap appends the init record signed by founder and returns its id.
func bootstrap(t *testing.T, s *operator.LogState, founder *signing.PrivateKey) hash.Digest {
	t.Helper()
	id, err := s.Append(signed(t, founder, initRecord(founder)))
	require.NoError(t, err)
	return id
}
