package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/operatorlog/internal/notify"
)

func TestDispatch_signedDelivery(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
		sigs   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		sigs = append(sigs, r.Header.Get(notify.SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := notify.New([]string{srv.URL, srv.URL}, "s3cret", zap.NewNop())
	var successes atomic.Int32
	n.SetMetricsRecorder(func(ok bool) {
		if ok {
			successes.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	n.Dispatch(ctx, notify.HeadEvent{Index: 3, RecordID: "sha256:ab", KeyID: "sha256:cd"})
	cancel() // deliveries must survive the caller's cancellation
	n.Wait()

	if len(bodies) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(bodies))
	}
	if successes.Load() != 2 {
		t.Errorf("successes: got %d, want 2", successes.Load())
	}
	for i, b := range bodies {
		if !notify.Verify(b, "s3cret", sigs[i]) {
			t.Errorf("delivery %d: signature %q does not verify", i, sigs[i])
		}
		var ev notify.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if ev.Type != notify.EventRecordAppended || ev.Index != 3 || ev.RecordID != "sha256:ab" || ev.KeyID != "sha256:cd" {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
}

func TestDispatch_retriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.New([]string{srv.URL}, "", zap.NewNop())
	n.SetRetryDelays(0, 0, 0)
	var outcomes []bool
	n.SetMetricsRecorder(func(ok bool) { outcomes = append(outcomes, ok) })

	n.Dispatch(context.Background(), notify.HeadEvent{})
	n.Wait()

	if calls.Load() != 3 {
		t.Errorf("attempts: got %d, want 3", calls.Load())
	}
	if len(outcomes) != 3 || outcomes[0] || outcomes[1] || !outcomes[2] {
		t.Errorf("outcomes: got %v", outcomes)
	}
}

func TestDispatch_givesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get(notify.SignatureHeader) != "" {
			t.Error("unsigned notifier sent a signature header")
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := notify.New([]string{srv.URL}, "", zap.NewNop())
	n.SetRetryDelays(0, 0)
	n.Dispatch(context.Background(), notify.HeadEvent{})
	n.Wait()

	if calls.Load() != 2 {
		t.Errorf("attempts: got %d, want 2", calls.Load())
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	body := []byte(`{"type":"record.appended"}`)
	sig := notify.Sign(body, "a")
	if notify.Verify(body, "b", sig) {
		t.Error("signature verified with the wrong secret")
	}
	if !notify.Verify(body, "a", sig) {
		t.Error("signature did not verify with the right secret")
	}
}
