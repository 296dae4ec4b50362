package summary

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ai-friend-coming/chatledger/internal/models"
)

// DefaultSweepInterval is how often the worker looks for chats with new
// messages.
const DefaultSweepInterval = 30 * time.Second

// sweepOverlap guards against messages committed just before the
// previous sweep's cutoff.
const sweepOverlap = 5 * time.Second

// Worker periodically scans for chats that accumulated new messages and
// hands them to the pipeline. Hosts that call MaybeSummarize inline after
// each chat turn do not need it; the worker covers chats appended to out
// of band.
type Worker struct {
	pipeline  *Pipeline
	interval  time.Duration
	lastSweep time.Time
}

// NewWorker builds a worker around pipeline. A non-positive interval
// falls back to DefaultSweepInterval.
func NewWorker(pipeline *Pipeline, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Worker{pipeline: pipeline, interval: interval}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

type activeChat struct {
	ChatID string
	UserID uint64
}

func (w *Worker) sweep(ctx context.Context) {
	since := w.lastSweep.Add(-sweepOverlap)
	w.lastSweep = time.Now().UTC()

	var chats []activeChat
	query := w.pipeline.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("chat_id, max(user_id) as user_id").
		Group("chat_id")
	if !since.IsZero() && since.Unix() > 0 {
		query = query.Where("created_at > ?", since)
	}
	if errScan := query.Scan(&chats).Error; errScan != nil {
		log.WithError(errScan).Warn("summary sweep query failed")
		return
	}

	for _, chat := range chats {
		if errRun := w.pipeline.MaybeSummarize(ctx, chat.ChatID, chat.UserID); errRun != nil {
			log.WithError(errRun).WithField("chat_id", chat.ChatID).Warn("summary sweep chat failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
}
