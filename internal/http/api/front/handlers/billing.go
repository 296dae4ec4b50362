package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BillingHandler serves balance and billing history endpoints.
type BillingHandler struct {
	db *gorm.DB
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(db *gorm.DB) *BillingHandler {
	return &BillingHandler{db: db}
}

// Balance returns the user's current balance and lifetime spend.
func (h *BillingHandler) Balance(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Take(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":        user.Balance,
		"total_consumed": user.TotalConsumed,
		"billing_status": user.BillingStatus,
	})
}

// logsListQuery defines query parameters for listing billing logs.
type logsListQuery struct {
	Page    int    `form:"page,default=1"`
	Limit   int    `form:"limit,default=20"`
	LogType string `form:"log_type"`
}

// billingLogDTO defines the billing log response payload.
type billingLogDTO struct {
	ID               uint64    `json:"id"`
	ModelID          string    `json:"model_id,omitempty"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalCost        int64     `json:"total_cost"`
	RefundAmount     int64     `json:"refund_amount"`
	BalanceAfter     int64     `json:"balance_after"`
	LogType          string    `json:"log_type"`
	PrechargeID      string    `json:"precharge_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Logs returns the user's billing history, newest first.
func (h *BillingHandler) Logs(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var q logsListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	ctx := c.Request.Context()
	query := h.db.WithContext(ctx).Model(&models.BillingLog{}).Where("user_id = ?", userID)
	if q.LogType != "" {
		query = query.Where("log_type = ?", q.LogType)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query logs failed"})
		return
	}

	var rows []models.BillingLog
	if errFind := query.
		Order("created_at_nanos DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query logs failed"})
		return
	}

	items := make([]billingLogDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, billingLogDTO{
			ID:               row.ID,
			ModelID:          row.ModelID,
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			TotalCost:        row.TotalCost,
			RefundAmount:     row.RefundAmount,
			BalanceAfter:     row.BalanceAfter,
			LogType:          row.LogType,
			PrechargeID:      row.PrechargeID,
			CreatedAt:        time.Unix(0, row.CreatedAtNanos).UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  items,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}
