package summary

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// contextTemplate renders the assembled system-prompt block. Sections are
// omitted when empty.
var contextTemplate = template.Must(template.New("summaryContext").Parse(
	`{{- if .Adjacent}}Previous conversation summary:
{{.Adjacent}}

{{end -}}
{{- if .Related}}Related earlier context:
{{- range .Related}}
- {{.}}
{{- end}}

{{end -}}
{{- if .Recent}}Recent messages:
{{.Recent}}
{{- end}}`))

type contextData struct {
	Adjacent string
	Related  []string
	Recent   string
}

// Assembler builds the per-request context block from recent messages and
// stored summary chunks.
type Assembler struct {
	db       *gorm.DB
	store    *Store
	embedder Embedder
}

// NewAssembler builds an assembler sharing the pipeline's store.
func NewAssembler(db *gorm.DB, store *Store, embedder Embedder) *Assembler {
	return &Assembler{db: db, store: store, embedder: embedder}
}

// Assemble renders the system-prompt block for a live request: the most
// recent messages within tokenBudget, the summary chunk closest in time for
// continuity, and up to topK semantically similar chunks retrieved against
// queryText, deduplicated against the adjacent one. Retrieval failures
// degrade to whatever parts are available.
func (a *Assembler) Assemble(ctx context.Context, chatID, queryText string, tokenBudget int64, topK int) (string, error) {
	recent, errRecent := a.recentWindow(ctx, chatID, tokenBudget)
	if errRecent != nil {
		return "", errRecent
	}

	data := contextData{Recent: renderMessages(recent)}

	adjacent, errAdjacent := a.store.MostAdjacent(ctx, chatID, time.Now().UTC())
	if errAdjacent != nil {
		log.WithError(errAdjacent).Warnf("adjacent chunk lookup failed for chat %s", chatID)
	}
	var excludeID uint64
	if adjacent != nil {
		data.Adjacent = adjacent.Content
		excludeID = adjacent.ID
	}

	if topK > 0 && queryText != "" {
		vectors, errEmbed := a.embedder.Embed(ctx, []string{queryText})
		if errEmbed != nil || len(vectors) != 1 {
			log.WithError(errEmbed).Warnf("query embedding failed for chat %s", chatID)
		} else {
			related, errSimilar := a.store.TopKSimilar(ctx, chatID, vectors[0], topK, excludeID)
			if errSimilar != nil {
				log.WithError(errSimilar).Warnf("similar chunk lookup failed for chat %s", chatID)
			}
			for _, chunk := range related {
				data.Related = append(data.Related, chunk.Content)
			}
		}
	}

	var b strings.Builder
	if errRender := contextTemplate.Execute(&b, data); errRender != nil {
		return "", fmt.Errorf("summary: render context: %w", errRender)
	}
	return b.String(), nil
}

// recentWindow loads the newest messages that fit the token budget,
// returned oldest first. At least one message is included when any exist.
func (a *Assembler) recentWindow(ctx context.Context, chatID string, tokenBudget int64) ([]models.Message, error) {
	var messages []models.Message
	if errFind := a.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(200).
		Find(&messages).Error; errFind != nil {
		return nil, errFind
	}

	var kept []models.Message
	var used int64
	for _, msg := range messages {
		tokens := messageTokens(msg)
		if len(kept) > 0 && used+tokens > tokenBudget {
			break
		}
		kept = append(kept, msg)
		used += tokens
	}
	// Reverse into chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, nil
}

func renderMessages(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
