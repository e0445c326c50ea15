package gateway

import (
	"context"
	"crypto/sha512"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"ms-ticketing-engine/internal/config"
)

const (
	vnpVersion   = "2.1.0"
	vnpCommand   = "pay"
	vnpLocale    = "vn"
	vnpCurrency  = "VND"
	vnpOrderType = "other"

	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
)

// VNPayGateway builds redirect URLs locally; nothing is sent to VNPay until
// the browser follows the link.
type VNPayGateway struct {
	cfg config.VNPayConfig
}

func NewVNPay(cfg config.VNPayConfig) *VNPayGateway {
	return &VNPayGateway{cfg: cfg}
}

func (g *VNPayGateway) Provider() Provider { return VNPay }

func (g *VNPayGateway) GeneratePaymentURL(_ context.Context, pc PaymentContext) (*PaymentURL, error) {
	if g.cfg.TmnCode == "" || g.cfg.HashSecret == "" {
		return nil, providerError(VNPay, "merchant code or hash secret not configured")
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    vnpCommand,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     vnpLocale,
		"vnp_CurrCode":   vnpCurrency,
		"vnp_TxnRef":     pc.TransactionCode,
		"vnp_OrderInfo":  pc.OrderInfo,
		"vnp_OrderType":  vnpOrderType,
		"vnp_Amount":     strconv.FormatInt(pc.Amount*100, 10),
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     pc.ClientIP,
		"vnp_CreateDate": pc.CreatedAt.In(vietnamTime).Format("20060102150405"),
	}

	query := vnpCanonical(params)
	signature := signHex(sha512.New, g.cfg.HashSecret, query)

	return &PaymentURL{
		URL:         g.cfg.PayURL + "?" + query + "&" + vnpSecureHash + "=" + signature,
		ProviderRef: pc.TransactionCode,
	}, nil
}

func (g *VNPayGateway) VerifyCallback(cb Callback) bool {
	return verifyHex(sha512.New, g.cfg.HashSecret, vnpCanonical(cb.Params), cb.Get(vnpSecureHash))
}

func (g *VNPayGateway) IsPaymentSuccess(cb Callback) bool {
	return cb.Get("vnp_ResponseCode") == "00"
}

func (g *VNPayGateway) Correlate(cb Callback) Correlation {
	return Correlation{
		Code:   cb.Get("vnp_TxnRef"),
		Amount: parseAmount(cb.Get("vnp_Amount")) / 100,
	}
}

// vnpCanonical sorts the non-empty vnp_* parameters by key and joins them
// form-encoded, the encoding VNPay hashes (space becomes '+').
func vnpCanonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if !strings.HasPrefix(k, "vnp_") || k == vnpSecureHash || k == vnpSecureHashType || v == "" {
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
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
