package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/internal/recordstore"
	"github.com/jmerrifield20/operatorlog/internal/service"
	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

var (
	ctx = context.Background()
	t0  = time.Unix(1_700_000_000, 0).UTC()
)

func newKey(t *testing.T) *signing.PrivateKey {
	t.Helper()
	k, err := signing.GenerateKey(signing.Ed25519)
	require.NoError(t, err)
	return k
}

func envelope(t *testing.T, key *signing.PrivateKey, rec *operator.Record) operator.Envelope {
	t.Helper()
	content, err := operator.Encode(rec)
	require.NoError(t, err)
	sig, err := key.Sign(operator.SigningPayload(content))
	require.NoError(t, err)
	return operator.Envelope{ContentBytes: content, KeyID: key.Public().Fingerprint(), Signature: sig.String()}
}

func initEnvelope(t *testing.T, founder *signing.PrivateKey) operator.Envelope {
	return envelope(t, founder, &operator.Record{
		Timestamp: t0,
		Entries:   []operator.Entry{operator.Init{HashAlgorithm: hash.SHA256, Key: founder.Public()}},
	})
}

func nextEnvelope(t *testing.T, key *signing.PrivateKey, prev hash.Digest, at time.Time, entries ...operator.Entry) operator.Envelope {
	return envelope(t, key, &operator.Record{Prev: &prev, Timestamp: at, Entries: entries})
}

// failingStore rejects every append with err.
type failingStore struct {
	*recordstore.MemoryStore
	err error
}

func (f *failingStore) Append(context.Context, *recordstore.StoredRecord) error { return f.err }

func TestAppend_persistsAndAdvances(t *testing.T) {
	store := recordstore.NewMemoryStore()
	svc := service.New(store, zap.NewNop())
	founder := newKey(t)

	var hooked []*service.AppendResult
	svc.OnAppend(func(r *service.AppendResult) { hooked = append(hooked, r) })

	res, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, founder.Public().Fingerprint(), res.KeyID)
	assert.Equal(t, t0, res.Timestamp)
	require.Len(t, hooked, 1)
	assert.Equal(t, res, hooked[0])

	res2, err := svc.Append(ctx, nextEnvelope(t, founder, res.RecordID, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Index)

	assert.Equal(t, 2, svc.Len(ctx))
	assert.Equal(t, res2.RecordID, svc.Head().RecordID)
	assert.Equal(t, hash.SHA256, svc.HashAlgorithm())
	assert.Equal(t, founder.Public().Fingerprint(), svc.Founder())

	stored, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, res.RecordID.String(), stored.Prev)
	assert.Equal(t, res2.RecordID.String(), stored.RecordID)
	assert.False(t, stored.AcceptedAt.IsZero())
}

func TestAppend_rejectedLeavesStoreUntouched(t *testing.T) {
	store := recordstore.NewMemoryStore()
	svc := service.New(store, zap.NewNop())
	founder := newKey(t)
	stranger := newKey(t)

	_, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)
	head := svc.Head()

	_, err = svc.Append(ctx, nextEnvelope(t, stranger, head.RecordID, t0))
	assert.ErrorIs(t, err, operator.ErrKeyIDNotRecognized)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, head, svc.Head())
}

func TestAppend_storeFailureLeavesStateUntouched(t *testing.T) {
	storeErr := errors.New("disk full")
	svc := service.New(&failingStore{MemoryStore: recordstore.NewMemoryStore(), err: storeErr}, zap.NewNop())
	founder := newKey(t)

	called := false
	svc.OnAppend(func(*service.AppendResult) { called = true })

	_, err := svc.Append(ctx, initEnvelope(t, founder))
	assert.ErrorIs(t, err, storeErr)
	assert.Nil(t, svc.Head())
	assert.Zero(t, svc.Len(ctx))
	assert.False(t, called)
}

func TestAppend_concurrentWritersOneWins(t *testing.T) {
	svc := service.New(recordstore.NewMemoryStore(), zap.NewNop())
	founder := newKey(t)
	res, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)

	const writers = 8
	envs := make([]operator.Envelope, writers)
	for i := range envs {
		envs[i] = nextEnvelope(t, founder, res.RecordID, t0.Add(time.Duration(i+1)*time.Second))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, env := range envs {
		wg.Add(1)
		go func(env operator.Envelope) {
			defer wg.Done()
			_, err := svc.Append(ctx, env)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			assert.ErrorIs(t, err, operator.ErrRecordHashDoesNotMatch)
		}(env)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, svc.Len(ctx))
}

func TestOpen_replaysStore(t *testing.T) {
	store := recordstore.NewMemoryStore()
	first := service.New(store, zap.NewNop())
	founder := newKey(t)
	k1 := newKey(t)

	res, err := first.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)
	res, err = first.Append(ctx, nextEnvelope(t, founder, res.RecordID, t0,
		operator.GrantFlat{Key: k1.Public(), Permission: operator.PermissionCommit}))
	require.NoError(t, err)

	second := service.New(store, zap.NewNop())
	require.NoError(t, second.Open(ctx))
	assert.Equal(t, first.Head(), second.Head())
	assert.Equal(t, first.Permissions(), second.Permissions())

	// The reopened service accepts the next record from the granted key.
	_, err = second.Append(ctx, nextEnvelope(t, k1, res.RecordID, t0))
	require.NoError(t, err)
}

func TestOpen_rejectsTamperedStore(t *testing.T) {
	store := recordstore.NewMemoryStore()
	founder := newKey(t)
	env := initEnvelope(t, founder)

	require.NoError(t, store.Append(ctx, &recordstore.StoredRecord{
		Index:        0,
		RecordID:     hash.Of(hash.SHA256, []byte("wrong")).String(),
		KeyID:        env.KeyID.String(),
		Signature:    env.Signature,
		ContentBytes: env.ContentBytes,
	}))

	err := service.New(store, zap.NewNop()).Open(ctx)
	assert.ErrorIs(t, err, service.ErrReplayMismatch)
}

func TestOpen_rejectsInvalidStoredRecord(t *testing.T) {
	store := recordstore.NewMemoryStore()
	founder := newKey(t)
	env := initEnvelope(t, founder)

	require.NoError(t, store.Append(ctx, &recordstore.StoredRecord{
		Index:        0,
		RecordID:     operator.RecordID(hash.SHA256, env.ContentBytes).String(),
		KeyID:        env.KeyID.String(),
		Signature:    "ed25519:AAAA",
		ContentBytes: env.ContentBytes,
	}))

	err := service.New(store, zap.NewNop()).Open(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay record 0")
}

func TestVerify(t *testing.T) {
	store := recordstore.NewMemoryStore()
	svc := service.New(store, zap.NewNop())

	report, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Length)
	assert.Empty(t, report.Head)

	founder := newKey(t)
	res, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)

	report, err = svc.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Length)
	assert.Equal(t, res.RecordID.String(), report.Head)

	// A record written behind the service's back moves the stored head.
	env := nextEnvelope(t, founder, res.RecordID, t0)
	require.NoError(t, store.Append(ctx, &recordstore.StoredRecord{
		Index:        1,
		RecordID:     operator.RecordID(hash.SHA256, env.ContentBytes).String(),
		KeyID:        env.KeyID.String(),
		Signature:    env.Signature,
		ContentBytes: env.ContentBytes,
	}))
	_, err = svc.Verify(ctx)
	assert.ErrorIs(t, err, service.ErrReplayMismatch)
}

// pausingStore blocks the first Scan until release is closed.
type pausingStore struct {
	*recordstore.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *pausingStore) Scan(ctx context.Context, fn func(*recordstore.StoredRecord) error) error {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.MemoryStore.Scan(ctx, fn)
}

func TestVerify_concurrentAppend(t *testing.T) {
	store := &pausingStore{
		MemoryStore: recordstore.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := service.New(store, zap.NewNop())
	founder := newKey(t)
	res, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)

	type verifyResult struct {
		report *service.VerifyReport
		err    error
	}
	verified := make(chan verifyResult, 1)
	go func() {
		report, err := svc.Verify(ctx)
		verified <- verifyResult{report, err}
	}()
	<-store.entered

	next := nextEnvelope(t, founder, res.RecordID, t0)
	appended := make(chan error, 1)
	go func() {
		_, err := svc.Append(ctx, next)
		appended <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	v := <-verified
	require.NoError(t, v.err)
	assert.Equal(t, 1, v.report.Length)
	assert.Equal(t, res.RecordID.String(), v.report.Head)

	require.NoError(t, <-appended)
	assert.Equal(t, 2, svc.Len(ctx))

	report, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Length)
}

func TestSnapshot(t *testing.T) {
	svc := service.New(recordstore.NewMemoryStore(), zap.NewNop())
	assert.Equal(t, service.Snapshot{}, svc.Snapshot())

	founder := newKey(t)
	res, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)

	snap := svc.Snapshot()
	assert.Equal(t, 1, snap.Length)
	assert.Equal(t, hash.SHA256, snap.HashAlgorithm)
	assert.Equal(t, founder.Public().Fingerprint(), snap.Founder)
	require.NotNil(t, snap.Head)
	assert.Equal(t, res.RecordID, snap.Head.RecordID)
}

func TestRecord_decodesContent(t *testing.T) {
	svc := service.New(recordstore.NewMemoryStore(), zap.NewNop())
	founder := newKey(t)
	_, err := svc.Append(ctx, initEnvelope(t, founder))
	require.NoError(t, err)

	view, err := svc.Record(ctx, 0)
	require.NoError(t, err)
	require.Len(t, view.Record.Entries, 1)
	require.NotNil(t, view.Record.Entries[0].Init)
	assert.Equal(t, founder.Public().String(), view.Record.Entries[0].Init.Key)
	assert.Equal(t, "sha256", view.Record.Entries[0].Init.HashAlgorithm)
	assert.Empty(t, view.Record.Prev)

	_, err = svc.Record(ctx, 5)
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestEncodeDecode(t *testing.T) {
	svc := service.New(recordstore.NewMemoryStore(), zap.NewNop())
	founder := newKey(t)

	d := operator.Draft{
		Timestamp: operator.TimestampOf(t0),
		Entries: []operator.DraftEntry{{
			Init: &operator.DraftInit{HashAlgorithm: "sha256", Key: founder.Public().String()},
		}},
	}
	enc, err := svc.Encode(d)
	require.NoError(t, err)
	assert.Equal(t, operator.RecordID(hash.SHA256, enc.ContentBytes), enc.RecordID)

	back, err := svc.Decode(enc.ContentBytes)
	require.NoError(t, err)
	assert.Equal(t, d, back)

	assert.Equal(t, operator.LogID(), svc.LogID())
	assert.Equal(t, operator.SigningPrefix(), svc.SigningPrefix())
}
