package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Provider verifies gateway callbacks. Implementations wrap one payment
// gateway's signing scheme; the service only needs a yes/no answer.
type Provider interface {
	// MerchantID returns the merchant identifier registered with the gateway.
	MerchantID() string
	// Verify reports whether the notify parameters carry a valid signature.
	Verify(params map[string]string) bool
}

// Notify parameter keys shared by the supported gateways.
const (
	paramMerchantID = "pid"
	paramOutTradeNo = "out_trade_no"
	paramTradeNo    = "trade_no"
	paramMoney      = "money"
	paramStatus     = "trade_status"
	paramSign       = "sign"
	paramSignType   = "sign_type"

	notifyStatusSuccess = "TRADE_SUCCESS"
)

// HMACProvider implements the common key-sorted HMAC-SHA256 signing scheme:
// non-empty parameters except sign/sign_type are sorted by key, joined as
// k=v&k=v, and signed with the merchant secret.
type HMACProvider struct {
	merchantID string
	secret     []byte
}

// NewHMACProvider builds a provider for the given merchant credentials.
func NewHMACProvider(merchantID, secret string) *HMACProvider {
	return &HMACProvider{merchantID: merchantID, secret: []byte(secret)}
}

// MerchantID implements Provider.
func (p *HMACProvider) MerchantID() string { return p.merchantID }

// Verify implements Provider.
func (p *HMACProvider) Verify(params map[string]string) bool {
	given := params[paramSign]
	if given == "" {
		return false
	}
	expected := p.Sign(params)
	return hmac.Equal([]byte(strings.ToLower(given)), []byte(expected))
}

// Sign computes the hex HMAC-SHA256 signature over the canonical parameter
// string. Exported so tests and outbound requests share the scheme.
func (p *HMACProvider) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == paramSign || k == paramSignType || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
