package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/payment"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"github.com/gin-gonic/gin"
)

// OrderHandler serves payment order endpoints.
type OrderHandler struct {
	payment  *payment.Service
	settings *settings.Service
}

// NewOrderHandler constructs an OrderHandler.
func NewOrderHandler(svc *payment.Service, cfg *settings.Service) *OrderHandler {
	return &OrderHandler{payment: svc, settings: cfg}
}

// createOrderRequest defines the request body for opening an order.
type createOrderRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	PaymentType   string `json:"payment_type"`
}

// orderDTO defines the order response payload.
type orderDTO struct {
	OutTradeNo string     `json:"out_trade_no"`
	Amount     int64      `json:"amount"`
	Status     string     `json:"status"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	ExpiredAt  time.Time  `json:"expired_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func orderResponse(order *models.PaymentOrder) orderDTO {
	return orderDTO{
		OutTradeNo: order.OutTradeNo,
		Amount:     order.Amount,
		Status:     order.Status,
		PaidAt:     order.PaidAt,
		ExpiredAt:  order.ExpiredAt,
		CreatedAt:  order.CreatedAt,
	}
}

// Tiers returns the selectable recharge amounts.
func (h *OrderHandler) Tiers(c *gin.Context) {
	values := h.settings.Current(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"tiers":          values.RechargeTiers,
		"first_recharge": values.FirstRechargeTiers,
	})
}

// Create opens a pending order for the current user.
func (h *OrderHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createOrderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	order, errCreate := h.payment.CreateOrder(c.Request.Context(), userID, body.Amount,
		strings.TrimSpace(body.PaymentMethod), strings.TrimSpace(body.PaymentType))
	if errCreate != nil {
		if errors.Is(errCreate, payment.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a valid recharge tier"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create order failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": orderResponse(order)})
}

// Get returns one of the user's orders by merchant order id.
func (h *OrderHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	order, errGet := h.payment.GetOrder(c.Request.Context(), c.Param("outTradeNo"))
	if errGet != nil {
		if errors.Is(errGet, payment.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query order failed"})
		return
	}
	if order.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": orderResponse(order)})
}
