// Package notify delivers signed webhook events when the operator log head
// moves.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventRecordAppended is the only event type sent.
const EventRecordAppended = "record.appended"

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Oplog-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// HeadEvent describes a newly accepted record.
type HeadEvent struct {
	Index    int
	RecordID string
	KeyID    string
}

// Event is the JSON body posted to each URL.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RecordID  string    `json:"record_id"`
	Index     int       `json:"index"`
	KeyID     string    `json:"key_id"`
}

// Notifier posts events to a fixed set of URLs.
type Notifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// New creates a Notifier. Bodies are signed with secret; an empty secret
// sends unsigned requests.
func New(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with exponential backoff: 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt. The number of
// delays is the number of attempts.
func (n *Notifier) SetRetryDelays(delays ...time.Duration) {
	n.delays = delays
}

// Dispatch sends ev to every URL in its own goroutine and returns at once.
// Deliveries outlive ctx's cancellation but keep its values.
func (n *Notifier) Dispatch(ctx context.Context, ev HeadEvent) {
	event := Event{
		ID:        uuid.New(),
		Type:      EventRecordAppended,
		Timestamp: time.Now().UTC(),
		RecordID:  ev.RecordID,
		Index:     ev.Index,
		KeyID:     ev.KeyID,
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("notify: marshal event", zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, event.ID, body)
		}(url)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// deliver posts body to url with retries.
func (n *Notifier) deliver(ctx context.Context, url string, id uuid.UUID, body []byte) {
	signature := ""
	if n.secret != "" {
		signature = Sign(body, n.secret)
	}

	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		success, errMsg := n.doDelivery(ctx, url, body, signature)
		if n.onMetrics != nil {
			n.onMetrics(success)
		}
		if success {
			return
		}

		n.logger.Warn("notify: delivery failed",
			zap.String("url", url),
			zap.String("event_id", id.String()),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// Sign computes the SignatureHeader value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the SignatureHeader value for body.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
