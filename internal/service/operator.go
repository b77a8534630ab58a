// Package service owns the single live operator log: it validates envelopes
// against the in-memory LogState, persists accepted records and replays the
// store on start.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/internal/recordstore"
	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// ErrReplayMismatch is returned when a stored record replays to a different
// record id than the one stored with it.
var ErrReplayMismatch = errors.New("service: stored record id does not match replay")

// AppendResult describes an accepted record.
type AppendResult struct {
	Index     int           `json:"index"`
	RecordID  hash.Digest   `json:"record_id"`
	KeyID     signing.KeyID `json:"key_id"`
	Timestamp time.Time     `json:"timestamp"`
}

// RecordView is a stored record together with its decoded form.
type RecordView struct {
	*recordstore.StoredRecord
	Record operator.Draft `json:"record"`
}

// VerifyReport is the outcome of a full replay.
type VerifyReport struct {
	Length int    `json:"length"`
	Head   string `json:"head,omitempty"`
}

// Snapshot is a consistent view of the log's summary fields.
type Snapshot struct {
	Length        int
	HashAlgorithm hash.Algorithm
	Founder       signing.KeyID
	Head          *operator.Head
}

// OperatorService serialises appends to one operator log. All methods are
// safe for concurrent use.
type OperatorService struct {
	mu       sync.RWMutex
	state    *operator.LogState
	store    recordstore.Store
	opts     []operator.Option
	onAppend []func(*AppendResult)
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an OperatorService over store. The service starts with an empty
// log; call Open to load the records already in store. opts configure every
// LogState the service builds.
func New(store recordstore.Store, logger *zap.Logger, opts ...operator.Option) *OperatorService {
	return &OperatorService{
		state:  operator.NewLogState(opts...),
		store:  store,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// OnAppend registers fn to be called after each accepted append. Hooks run on
// the appending goroutine after the lock is released.
func (s *OperatorService) OnAppend(fn func(*AppendResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = append(s.onAppend, fn)
}

// Open replays every stored record into a fresh state and makes it live. It
// fails if any stored record no longer validates.
func (s *OperatorService) Open(ctx context.Context) error {
	st, err := s.replay(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	fields := []zap.Field{zap.Int("length", st.Len())}
	if h := st.Head(); h != nil {
		fields = append(fields, zap.String("head", h.RecordID.String()))
	}
	s.logger.Info("operator log loaded", fields...)
	return nil
}

func (s *OperatorService) replay(ctx context.Context) (*operator.LogState, error) {
	st := operator.NewLogState(s.opts...)
	err := s.store.Scan(ctx, func(rec *recordstore.StoredRecord) error {
		id, err := st.Append(operator.Envelope{
			ContentBytes: rec.ContentBytes,
			KeyID:        signing.KeyID(rec.KeyID),
			Signature:    rec.Signature,
		})
		if err != nil {
			return fmt.Errorf("replay record %d: %w", rec.Index, err)
		}
		if id.String() != rec.RecordID {
			return fmt.Errorf("%w: index %d stored %s, computed %s", ErrReplayMismatch, rec.Index, rec.RecordID, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Append validates env against the current head and persists it. The live
// state only advances once the store has accepted the record.
func (s *OperatorService) Append(ctx context.Context, env operator.Envelope) (*AppendResult, error) {
	s.mu.Lock()

	next := s.state.Clone()
	id, err := next.Append(env)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("operator record rejected",
			zap.String("key_id", env.KeyID.String()),
			zap.String("code", operator.Code(err)),
			zap.Error(err),
		)
		return nil, err
	}

	var prev string
	if h := s.state.Head(); h != nil {
		prev = h.RecordID.String()
	}
	head := next.Head()
	stored := &recordstore.StoredRecord{
		Index:        s.state.Len(),
		RecordID:     id.String(),
		Prev:         prev,
		KeyID:        env.KeyID.String(),
		Signature:    env.Signature,
		ContentBytes: env.ContentBytes,
		Timestamp:    head.Timestamp,
		AcceptedAt:   s.now().UTC(),
	}
	if err := s.store.Append(ctx, stored); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persist record: %w", err)
	}
	s.state = next
	hooks := s.onAppend
	s.mu.Unlock()

	res := &AppendResult{
		Index:     stored.Index,
		RecordID:  id,
		KeyID:     env.KeyID,
		Timestamp: head.Timestamp,
	}
	s.logger.Info("operator record appended",
		zap.Int("index", res.Index),
		zap.String("record_id", id.String()),
		zap.String("key_id", env.KeyID.String()),
	)
	for _, fn := range hooks {
		fn(res)
	}
	return res, nil
}

// Encode converts and canonically encodes d.
func (s *OperatorService) Encode(d operator.Draft) (*operator.EncodedRecord, error) {
	return operator.EncodeDraft(d)
}

// Decode decodes canonical record bytes.
func (s *OperatorService) Decode(b []byte) (operator.Draft, error) {
	return operator.DecodeDraft(b)
}

// Head returns the current chain tip, or nil for an empty log.
func (s *OperatorService) Head() *operator.Head {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Head()
}

// HashAlgorithm returns the log's algorithm, or "" before Init.
func (s *OperatorService) HashAlgorithm() hash.Algorithm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.HashAlgorithm()
}

// Founder returns the founding key id, or "" before Init.
func (s *OperatorService) Founder() signing.KeyID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Founder()
}

// Permissions returns a copy of the permission table.
func (s *OperatorService) Permissions() map[signing.KeyID][]operator.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Permissions()
}

// Snapshot returns the length, algorithm, founder and head read under one lock.
func (s *OperatorService) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Length:        s.state.Len(),
		HashAlgorithm: s.state.HashAlgorithm(),
		Founder:       s.state.Founder(),
		Head:          s.state.Head(),
	}
}

// Len returns the number of accepted records.
func (s *OperatorService) Len(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Len()
}

// Record returns the stored record at idx with its decoded content.
func (s *OperatorService) Record(ctx context.Context, idx int) (*RecordView, error) {
	rec, err := s.store.Get(ctx, idx)
	if err != nil {
		return nil, err
	}
	d, err := operator.DecodeDraft(rec.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("decode stored record %d: %w", idx, err)
	}
	return &RecordView{StoredRecord: rec, Record: d}, nil
}

// Verify replays the whole store into a scratch state and checks it ends at
// the live head. Appends wait until the check is done.
func (s *OperatorService) Verify(ctx context.Context) (*VerifyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.replay(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Length: st.Len()}
	replayed := st.Head()
	if replayed != nil {
		report.Head = replayed.RecordID.String()
	}

	live := s.state.Head()
	switch {
	case live == nil && replayed == nil:
	case live == nil || replayed == nil || !live.RecordID.Equal(replayed.RecordID) || st.Len() != s.state.Len():
		return report, fmt.Errorf("%w: replayed head differs from live head", ErrReplayMismatch)
	}
	return report, nil
}

// LogID returns the operator log identifier.
func (s *OperatorService) LogID() hash.Digest { return operator.LogID() }

// SigningPrefix returns the bytes prepended to content before signing.
func (s *OperatorService) SigningPrefix() []byte { return operator.SigningPrefix() }
