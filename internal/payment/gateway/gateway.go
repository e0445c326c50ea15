// Package gateway implements the three payment provider protocols behind one
// capability interface. Adapters never touch storage; the settlement
// coordinator dispatches to them purely on Provider.
package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ms-ticketing-engine/internal/apperror"
)

type Provider string

const (
	VNPay   Provider = "vnpay"
	MoMo    Provider = "momo"
	ZaloPay Provider = "zalopay"
)

func ParseProvider(s string) (Provider, bool) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case VNPay, MoMo, ZaloPay:
		return p, true
	}
	return "", false
}

// Source distinguishes a server-to-server notification from the browser
// being redirected back after checkout. Some providers sign them differently.
type Source string

const (
	SourceNotify Source = "notify"
	SourceReturn Source = "return"
)

// vietnamTime is the zone every provider expects for date fields.
var vietnamTime = time.FixedZone("ICT", 7*60*60)

// PaymentContext is everything an adapter needs to start a checkout.
type PaymentContext struct {
	OrderID         string
	TransactionCode string
	Amount          int64
	OrderInfo       string
	ClientIP        string
	CreatedAt       time.Time
}

type PaymentURL struct {
	URL string
	// ProviderRef is the provider-side identifier the callbacks will carry,
	// stored on the transaction for correlation.
	ProviderRef string
}

type Callback struct {
	Source Source
	Params map[string]string
}

func (c Callback) Get(key string) string {
	return c.Params[key]
}

// Correlation is what a callback says about the transaction it belongs to.
type Correlation struct {
	Code        string
	ProviderRef string
	Amount      int64
	// AmountFallback allows matching the single pending transaction with the
	// same amount when neither Code nor ProviderRef resolves.
	AmountFallback bool
}

type Gateway interface {
	Provider() Provider
	GeneratePaymentURL(ctx context.Context, pc PaymentContext) (*PaymentURL, error)
	VerifyCallback(cb Callback) bool
	IsPaymentSuccess(cb Callback) bool
	Correlate(cb Callback) Correlation
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, apperror.Validation("unsupported payment method %q", p)
	}
	return g, nil
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func signHex(newHash func() hash.Hash, key, data string) string {
	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHex compares in constant time. Providers send lower-case hex, but
// VNPay has been seen to upper-case it.
func verifyHex(newHash func() hash.Hash, key, data, got string) bool {
	if got == "" {
		return false
	}
	expected := signHex(newHash, key, data)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(got)))
}

func parseAmount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func providerError(p Provider, format string, args ...any) error {
	return apperror.Gateway(string(p), fmt.Errorf(format, args...))
}
