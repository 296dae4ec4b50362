package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ai-friend-coming/chatledger/internal/promo"

	"github.com/gin-gonic/gin"
)

// PromoHandler serves redeem-code and sign-in endpoints.
type PromoHandler struct {
	promo *promo.Service
}

// NewPromoHandler constructs a PromoHandler.
func NewPromoHandler(svc *promo.Service) *PromoHandler {
	return &PromoHandler{promo: svc}
}

// redeemRequest defines the request body for code redemption.
type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem credits a voucher to the current user.
func (h *PromoHandler) Redeem(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body redeemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	amount, errRedeem := h.promo.Redeem(c.Request.Context(), userID, code)
	if errRedeem != nil {
		status, message := redeemFailureStatus(errRedeem)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

// redeemFailureStatus maps redeem failures onto HTTP responses.
func redeemFailureStatus(errRedeem error) (int, string) {
	switch {
	case errors.Is(errRedeem, promo.ErrCodeNotFound):
		return http.StatusNotFound, "code not found"
	case errors.Is(errRedeem, promo.ErrCodeDisabled):
		return http.StatusBadRequest, "code disabled"
	case errors.Is(errRedeem, promo.ErrCodeNotYetActive):
		return http.StatusBadRequest, "code not yet active"
	case errors.Is(errRedeem, promo.ErrCodeExpired):
		return http.StatusBadRequest, "code expired"
	case errors.Is(errRedeem, promo.ErrCodeExhausted):
		return http.StatusBadRequest, "code exhausted"
	case errors.Is(errRedeem, promo.ErrCodeAlreadyUsed):
		return http.StatusBadRequest, "code already used"
	default:
		return http.StatusInternalServerError, "redeem failed"
	}
}

// SignIn claims the daily reward for the current user.
func (h *PromoHandler) SignIn(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	amount, errSignIn := h.promo.SignIn(c.Request.Context(), userID)
	if errSignIn != nil {
		if errors.Is(errSignIn, promo.ErrAlreadySignedIn) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "already signed in today"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}
