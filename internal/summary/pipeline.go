// Package summary implements the rolling conversation-summarization
// pipeline: token-budgeted chunking of chat history, bootstrap and
// incremental runs, vector-backed retrieval and context assembly. Runs are
// advisory; a failed run records its error on the chat state and never
// breaks the chat turn that triggered it.
package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/settings"
	"github.com/ai-friend-coming/chatledger/internal/usage"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// bootstrapMinMessages is the floor below which a chat is never
// summarized; a two-message chat is a single turn.
const bootstrapMinMessages = 3

// Summarizer condenses one transcript window into summary text and reports
// the token usage of the call.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, usage.Info, error)
}

// Embedder vectorizes a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Pipeline drives summarization for all chats. Construct once and share.
type Pipeline struct {
	db         *gorm.DB
	store      *Store
	engine     *ledger.Engine
	settings   *settings.Service
	summarizer Summarizer
	embedder   Embedder
	redis      *redis.Client
	modelID    string
}

// NewPipeline builds a pipeline. redisClient may be nil; the storage-level
// status guard then stands alone, which is safe for single-process
// deployments.
func NewPipeline(db *gorm.DB, engine *ledger.Engine, cfg *settings.Service, summarizer Summarizer, embedder Embedder, redisClient *redis.Client, modelID string) *Pipeline {
	return &Pipeline{
		db:         db,
		store:      NewStore(db),
		engine:     engine,
		settings:   cfg,
		summarizer: summarizer,
		embedder:   embedder,
		redis:      redisClient,
		modelID:    modelID,
	}
}

// Store exposes the chunk store for retrieval-time callers.
func (p *Pipeline) Store() *Store { return p.store }

// MaybeSummarize checks the chat's thresholds and runs a bootstrap or
// rolling update when due. Threshold misses and in-flight runs return nil;
// run failures are recorded on the state and also return nil because the
// chat turn that triggered the run must not observe them.
func (p *Pipeline) MaybeSummarize(ctx context.Context, chatID string, userID uint64) error {
	state, errState := p.loadOrCreateState(ctx, chatID, userID)
	if errState != nil {
		return errState
	}
	if state.Status == models.SummaryStatusGenerating {
		return nil
	}

	pending, errPending := p.pendingMessages(ctx, chatID, state.LastSummarizedMessageID)
	if errPending != nil {
		return errPending
	}

	bootstrap := state.LastSummarizedMessageID == 0 && state.CurrentChunkCount == 0
	cfg := p.settings.Current(ctx).Summary
	if bootstrap {
		if len(pending) < bootstrapMinMessages {
			// Single-turn chats stay done with an empty state so the
			// bootstrap check never re-fires for them.
			return nil
		}
	} else if !rollingDue(cfg, pending) {
		return nil
	}

	lock := newChatLock(p.redis, chatID)
	locked, errLock := lock.TryLock(ctx)
	if errLock != nil {
		log.WithError(errLock).Warnf("summary lock unavailable for chat %s", chatID)
		return nil
	}
	if !locked {
		return nil
	}
	defer func() {
		if errUnlock := lock.Unlock(context.WithoutCancel(ctx)); errUnlock != nil {
			log.WithError(errUnlock).Warnf("summary unlock failed for chat %s", chatID)
		}
	}()

	if !p.claimState(ctx, chatID) {
		return nil
	}

	var windows []window
	if bootstrap {
		windows = splitByBudget(pending, cfg.FirstChunkTokenBudget, cfg.ChunkTokenBudget)
	} else {
		windows = []window{{Messages: pending, Tokens: totalTokens(pending)}}
	}

	if errRun := p.run(ctx, state, pending, windows, cfg.MaxParallelChunks); errRun != nil {
		log.WithError(errRun).Errorf("summarization failed for chat %s", chatID)
		p.releaseState(ctx, chatID, errRun)
		return nil
	}
	return nil
}

// rollingDue applies the dual threshold: a floor of new messages, then
// either the message ceiling or the token ceiling.
func rollingDue(cfg settings.SummaryConfig, pending []models.Message) bool {
	if len(pending) < cfg.RollingMinMessages {
		return false
	}
	return len(pending) >= cfg.RollingMessageCeiling || totalTokens(pending) >= cfg.RollingTokenCeiling
}

func (p *Pipeline) loadOrCreateState(ctx context.Context, chatID string, userID uint64) (*models.ChatSummaryState, error) {
	var state models.ChatSummaryState
	errFind := p.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&state).Error
	if errFind == nil {
		return &state, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, errFind
	}

	state = models.ChatSummaryState{
		ChatID: chatID,
		UserID: userID,
		Status: models.SummaryStatusDone,
	}
	if errCreate := p.db.WithContext(ctx).Create(&state).Error; errCreate != nil {
		return nil, fmt.Errorf("summary: create state: %w", errCreate)
	}
	return &state, nil
}

func (p *Pipeline) pendingMessages(ctx context.Context, chatID string, afterID uint64) ([]models.Message, error) {
	var messages []models.Message
	if errFind := p.db.WithContext(ctx).
		Where("chat_id = ? AND id > ?", chatID, afterID).
		Order("id ASC").
		Find(&messages).Error; errFind != nil {
		return nil, errFind
	}
	return messages, nil
}

// claimState flips done to generating with a conditional update; losing the
// race means another trigger already owns the run.
func (p *Pipeline) claimState(ctx context.Context, chatID string) bool {
	res := p.db.WithContext(ctx).Model(&models.ChatSummaryState{}).
		Where("chat_id = ? AND status = ?", chatID, models.SummaryStatusDone).
		Update("status", models.SummaryStatusGenerating)
	if res.Error != nil {
		log.WithError(res.Error).Errorf("summary claim failed for chat %s", chatID)
		return false
	}
	return res.RowsAffected > 0
}

// releaseState returns the state to done, recording the failure when there
// was one.
func (p *Pipeline) releaseState(ctx context.Context, chatID string, cause error) {
	updates := map[string]any{
		"status":        models.SummaryStatusDone,
		"error_status":  "",
		"error_message": "",
	}
	if cause != nil {
		updates["error_status"] = "failed"
		updates["error_message"] = cause.Error()
	}
	if errUpdate := p.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.ChatSummaryState{}).
		Where("chat_id = ?", chatID).
		Updates(updates).Error; errUpdate != nil {
		log.WithError(errUpdate).Errorf("summary release failed for chat %s", chatID)
	}
}

// summarizedWindow carries one window's summarizer output.
type summarizedWindow struct {
	text string
	used usage.Info
}

// run summarizes the windows, embeds the results in one batch, persists the
// chunks and advances the state. The ledger side-charge is applied at the
// end from the accumulated usage.
func (p *Pipeline) run(ctx context.Context, state *models.ChatSummaryState, pending []models.Message, windows []window, maxParallel int) error {
	results, total, errSummarize := p.summarizeAll(ctx, windows, maxParallel)
	if errSummarize != nil {
		return errSummarize
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.text
	}
	vectors, errEmbed := p.embedder.Embed(ctx, texts)
	if errEmbed != nil {
		return fmt.Errorf("summary: embed chunks: %w", errEmbed)
	}
	if len(vectors) != len(results) {
		return fmt.Errorf("summary: embedder returned %d vectors for %d chunks", len(vectors), len(results))
	}

	chunks := make([]models.SummaryChunk, len(results))
	for i, w := range windows {
		embedding, errEncode := encodeEmbedding(vectors[i])
		if errEncode != nil {
			return fmt.Errorf("summary: encode embedding: %w", errEncode)
		}
		chunks[i] = models.SummaryChunk{
			ChatID:         state.ChatID,
			ChunkIndex:     state.CurrentChunkCount + i,
			UserID:         state.UserID,
			Content:        results[i].text,
			Embedding:      embedding,
			FirstMessageID: w.first().ID,
			LastMessageID:  w.last().ID,
			RangeStart:     w.first().CreatedAt,
			RangeEnd:       w.last().CreatedAt,
		}
	}
	if errSave := p.store.SaveChunks(ctx, chunks); errSave != nil {
		return errSave
	}

	newest := pending[len(pending)-1]
	newestAt := newest.CreatedAt
	if errUpdate := p.db.WithContext(ctx).Model(&models.ChatSummaryState{}).
		Where("chat_id = ?", state.ChatID).
		Updates(map[string]any{
			"status":                     models.SummaryStatusDone,
			"last_summarized_message_id": newest.ID,
			"last_summarized_timestamp":  newestAt,
			"current_chunk_count":        gorm.Expr("current_chunk_count + ?", len(chunks)),
			"processed_message_count":    gorm.Expr("processed_message_count + ?", len(pending)),
			"total_prompt_tokens":        gorm.Expr("total_prompt_tokens + ?", total.TotalPrompt()),
			"total_completion_tokens":    gorm.Expr("total_completion_tokens + ?", total.TotalCompletion()),
			"error_status":               "",
			"error_message":              "",
		}).Error; errUpdate != nil {
		return fmt.Errorf("summary: advance state: %w", errUpdate)
	}

	p.charge(ctx, state.UserID, total)
	log.Infof("summarized chat %s: %d chunks, %d messages", state.ChatID, len(chunks), len(pending))
	return nil
}

// summarizeAll runs the per-window summarizer calls with at most
// maxParallel in flight and merges their usage.
func (p *Pipeline) summarizeAll(ctx context.Context, windows []window, maxParallel int) ([]summarizedWindow, usage.Info, error) {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make([]summarizedWindow, len(windows))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := range windows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text, used, errSum := p.summarizer.Summarize(ctx, windows[i].renderTranscript())
			mu.Lock()
			defer mu.Unlock()
			if errSum != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("summary: summarize window %d: %w", i, errSum)
				}
				return
			}
			results[i] = summarizedWindow{text: text, used: used}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, usage.Info{}, firstErr
	}

	var total usage.Info
	for _, r := range results {
		total.PromptTokens += r.used.PromptTokens
		total.CompletionTokens += r.used.CompletionTokens
		total.CachedTokens += r.used.CachedTokens
		total.ReasoningTokens += r.used.ReasoningTokens
	}
	return results, total, nil
}

// charge applies the summarization side-charge. Failures are logged only;
// the summary itself is already stored and useful.
func (p *Pipeline) charge(ctx context.Context, userID uint64, total usage.Info) {
	if total.IsZero() {
		return
	}
	if _, errDeduct := p.engine.Deduct(ctx, userID, p.modelID, total, models.LogTypeDeductSummary); errDeduct != nil {
		log.WithError(errDeduct).Warnf("summary charge failed for user %d", userID)
	}
}

// LastSummarizedAt reports the newest covered timestamp for a chat, zero
// when nothing is summarized yet.
func (p *Pipeline) LastSummarizedAt(ctx context.Context, chatID string) (time.Time, error) {
	var state models.ChatSummaryState
	errFind := p.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&state).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, errFind
	}
	if state.LastSummarizedTimestamp == nil {
		return time.Time{}, nil
	}
	return *state.LastSummarizedTimestamp, nil
}
