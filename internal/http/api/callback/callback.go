// Package callback receives payment gateway notifications.
package callback

import (
	"net/http"

	"github.com/ai-friend-coming/chatledger/internal/payment"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Gateway acknowledgement bodies. The gateway retries until it reads the
// success string, so duplicate deliveries are expected and must ack.
const (
	ackSuccess = "success"
	ackFailure = "failure"
)

// RegisterCallbackRoutes registers the unauthenticated gateway endpoints.
func RegisterCallbackRoutes(r *gin.Engine, paymentSvc *payment.Service) {
	if r == nil || paymentSvc == nil {
		return
	}
	handler := &notifyHandler{payment: paymentSvc}
	r.POST("/v0/callback/payment/notify", handler.Notify)
}

type notifyHandler struct {
	payment *payment.Service
}

// Notify verifies and applies one gateway callback, answering with the
// gateway's expected ack strings.
func (h *notifyHandler) Notify(c *gin.Context) {
	if errParse := c.Request.ParseForm(); errParse != nil {
		c.String(http.StatusBadRequest, ackFailure)
		return
	}
	params := make(map[string]string, len(c.Request.Form))
	for key := range c.Request.Form {
		params[key] = c.Request.Form.Get(key)
	}

	if errNotify := h.payment.HandleNotify(c.Request.Context(), params); errNotify != nil {
		log.WithError(errNotify).Warnf("payment notify rejected for %s", params["out_trade_no"])
		c.String(http.StatusOK, ackFailure)
		return
	}
	c.String(http.StatusOK, ackSuccess)
}
