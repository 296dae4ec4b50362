package billing

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ai-friend-coming/chatledger/internal/usage"

	log "github.com/sirupsen/logrus"
)

// StreamBiller wraps an upstream SSE body so the billing context settles no
// matter how the stream ends: drained to EOF, closed early by the client, or
// cancelled. Bytes pass through unchanged; each read is scanned best-effort
// for usage objects and delta content.
type StreamBiller struct {
	reader  io.ReadCloser
	billing *Context
	ctx     context.Context

	mu      sync.Mutex
	closed  bool
	settled bool
}

// NewStreamBiller wraps reader. The context is the request context; its
// cancellation marks the settlement as a client disconnect rather than an
// upstream failure.
func NewStreamBiller(ctx context.Context, reader io.ReadCloser, billing *Context) *StreamBiller {
	return &StreamBiller{
		reader:  reader,
		billing: billing,
		ctx:     ctx,
	}
}

// Read passes bytes through and inspects each chunk for usage and content.
// Parse failures are swallowed; a malformed chunk must never break the
// response the client is already receiving.
func (s *StreamBiller) Read(p []byte) (int, error) {
	n, errRead := s.reader.Read(p)
	if n > 0 {
		s.inspect(p[:n])
	}
	if errRead != nil {
		if errRead == io.EOF {
			s.ensureSettle(nil)
		} else {
			s.ensureSettle(errRead)
		}
	}
	return n, errRead
}

// Close settles the billing context before closing the upstream body. Safe
// to call more than once.
func (s *StreamBiller) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.ensureSettle(s.ctx.Err())
	return s.reader.Close()
}

func (s *StreamBiller) inspect(chunk []byte) {
	if info := usage.ParseSSEChunk(chunk); info != nil {
		s.billing.UpdateUsage(*info)
	}
	if delta := usage.ExtractDeltaContent(chunk); delta != "" {
		s.billing.AddContent(delta)
	}
	if reasoning := usage.ExtractReasoningContent(chunk); reasoning != "" {
		s.billing.AddContent(reasoning)
	}
}

// ensureSettle drives settlement exactly once. cause distinguishes a clean
// finish (nil), a client cancellation, and an upstream read failure; all
// three still settle with whatever usage was observed.
func (s *StreamBiller) ensureSettle(cause error) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return
	}
	s.settled = true
	s.mu.Unlock()

	switch {
	case cause == nil:
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		log.Info("stream cancelled by client, settling with partial usage")
	default:
		log.WithError(cause).Error("stream terminated abnormally, settling with partial usage")
	}

	// Settlement must not inherit the request's cancellation.
	s.billing.Settle(context.WithoutCancel(s.ctx))
}
