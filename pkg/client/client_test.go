package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/operatorlog/internal/handler"
	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/internal/recordstore"
	"github.com/jmerrifield20/operatorlog/internal/service"
	"github.com/jmerrifield20/operatorlog/pkg/client"
	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

var ctx = context.Background()

// ── Test server ─────────────────────────────────────────────────────────

func operatorServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := service.New(recordstore.NewMemoryStore(), zap.NewNop())
	srv := httptest.NewServer(handler.NewRouter(handler.RouterConfig{}, svc, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func signedEnvelope(t *testing.T, key *signing.PrivateKey, rec *operator.Record) client.Envelope {
	t.Helper()
	content, err := operator.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := key.Sign(operator.SigningPayload(content))
	if err != nil {
		t.Fatal(err)
	}
	return client.Envelope{ContentBytes: content, KeyID: string(key.Public().Fingerprint()), Signature: sig.String()}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestNew_requiresURL(t *testing.T) {
	if _, err := client.New(""); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := client.New("http://x", client.WithHTTPClient(nil)); err == nil {
		t.Error("expected error for nil http client")
	}
}

func TestClient_appendAndRead(t *testing.T) {
	srv := operatorServer(t)
	c := client.MustNew(srv.URL+"/", client.WithTimeout(5*time.Second), client.WithUserAgent("test"))

	head, err := c.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Fatalf("expected no head on an empty log, got %+v", head)
	}

	founder, err := signing.GenerateKey(signing.Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Unix(1_700_000_000, 0).UTC()
	res, err := c.Append(ctx, signedEnvelope(t, founder, &operator.Record{
		Timestamp: at,
		Entries:   []operator.Entry{operator.Init{HashAlgorithm: hash.SHA256, Key: founder.Public()}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Index != 0 || res.KeyID != string(founder.Public().Fingerprint()) {
		t.Errorf("unexpected append result: %+v", res)
	}

	info, err := c.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 1 || info.Head == nil || info.Head.RecordID != res.RecordID {
		t.Errorf("unexpected info: %+v", info)
	}
	if string(info.SigningPrefix) != "WARG-OPERATOR-LOG-SIGNATURE-V0" {
		t.Errorf("signing prefix: got %q", info.SigningPrefix)
	}
	if info.LogID != operator.LogID().String() {
		t.Errorf("log id: got %q", info.LogID)
	}

	rec, err := c.Record(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RecordID != res.RecordID || len(rec.Body) == 0 {
		t.Errorf("unexpected record: %+v", rec)
	}

	perms, err := c.Permissions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := perms[string(founder.Public().Fingerprint())]; len(got) != 1 || got[0] != "commit" {
		t.Errorf("permissions: got %v", perms)
	}

	v, err := c.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Length != 1 || v.Head != res.RecordID {
		t.Errorf("verify: got %+v", v)
	}
}

func TestClient_rejectedAppend(t *testing.T) {
	srv := operatorServer(t)
	c := client.MustNew(srv.URL)

	founder, _ := signing.GenerateKey(signing.ECDSAP256)
	stranger, _ := signing.GenerateKey(signing.ECDSAP256)
	_, err := c.Append(ctx, signedEnvelope(t, stranger, &operator.Record{
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Entries:   []operator.Entry{operator.Init{HashAlgorithm: hash.SHA256, Key: founder.Public()}},
	}))

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "KeyIDNotRecognized" {
		t.Errorf("unexpected error: %+v", apiErr)
	}

	if _, err := c.Record(ctx, 3); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestClient_encodeDecode(t *testing.T) {
	srv := operatorServer(t)
	c := client.MustNew(srv.URL)

	key, _ := signing.GenerateKey(signing.Ed25519)
	draft := operator.Draft{
		Timestamp: operator.Timestamp{Seconds: 1_700_000_000},
		Entries: []operator.DraftEntry{{
			GrantFlat: &operator.DraftGrantFlat{Key: key.Public().String(), Permission: "commit"},
		}},
	}
	enc, err := c.Encode(ctx, draft)
	if err != nil {
		t.Fatal(err)
	}
	if enc.RecordID != operator.RecordID(hash.SHA256, enc.ContentBytes).String() {
		t.Errorf("record id mismatch: %s", enc.RecordID)
	}

	raw, err := c.Decode(ctx, enc.ContentBytes)
	if err != nil {
		t.Fatal(err)
	}
	var back operator.Draft
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Entries[0].GrantFlat == nil || back.Entries[0].GrantFlat.Key != key.Public().String() {
		t.Errorf("decoded draft: %+v", back)
	}
}

func TestClient_plainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.MustNew(srv.URL).Info(ctx)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream down" || apiErr.Code != "" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}
