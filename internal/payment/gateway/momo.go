package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ms-ticketing-engine/internal/config"

	"github.com/google/uuid"
)

const momoRequestType = "payWithMethod"

// momoCallbackFields is the fixed order MoMo signs IPN and redirect params in.
var momoCallbackFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

type MoMoGateway struct {
	cfg    config.MoMoConfig
	client HTTPDoer
}

func NewMoMo(cfg config.MoMoConfig, client HTTPDoer) *MoMoGateway {
	return &MoMoGateway{cfg: cfg, client: client}
}

func (g *MoMoGateway) Provider() Provider { return MoMo }

// GeneratePaymentURL asks MoMo to open a checkout session; the transaction
// code travels as MoMo's orderId and comes back on every callback.
func (g *MoMoGateway) GeneratePaymentURL(ctx context.Context, pc PaymentContext) (*PaymentURL, error) {
	requestID := "REQ_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		g.cfg.AccessKey, pc.Amount, g.cfg.IPNURL, pc.TransactionCode, pc.OrderInfo,
		g.cfg.PartnerCode, g.cfg.RedirectURL, requestID, momoRequestType,
	)

	body, err := json.Marshal(momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		AccessKey:   g.cfg.AccessKey,
		RequestID:   requestID,
		Amount:      pc.Amount,
		OrderID:     pc.TransactionCode,
		OrderInfo:   pc.OrderInfo,
		RedirectURL: g.cfg.RedirectURL,
		IPNURL:      g.cfg.IPNURL,
		RequestType: momoRequestType,
		Signature:   signHex(sha256.New, g.cfg.SecretKey, raw),
		Lang:        "vi",
	})
	if err != nil {
		return nil, providerError(MoMo, "encode create request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, providerError(MoMo, "build create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, providerError(MoMo, "create payment: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, providerError(MoMo, "read create response: %v", err)
	}

	var result momoCreateResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, providerError(MoMo, "decode create response (HTTP %d): %v", resp.StatusCode, err)
	}
	if result.ResultCode != 0 || result.PayURL == "" {
		return nil, providerError(MoMo, "payment creation rejected: %s (resultCode %d)", result.Message, result.ResultCode)
	}

	return &PaymentURL{URL: result.PayURL, ProviderRef: requestID}, nil
}

func (g *MoMoGateway) VerifyCallback(cb Callback) bool {
	return verifyHex(sha256.New, g.cfg.SecretKey, g.callbackSignature(cb), cb.Get("signature"))
}

func (g *MoMoGateway) callbackSignature(cb Callback) string {
	var b strings.Builder
	b.WriteString("accessKey=")
	b.WriteString(g.cfg.AccessKey)
	for _, field := range momoCallbackFields {
		b.WriteByte('&')
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(cb.Get(field))
	}
	return b.String()
}

func (g *MoMoGateway) IsPaymentSuccess(cb Callback) bool {
	code, err := strconv.Atoi(strings.TrimSpace(cb.Get("resultCode")))
	return err == nil && code == 0
}

func (g *MoMoGateway) Correlate(cb Callback) Correlation {
	return Correlation{
		Code:        cb.Get("orderId"),
		ProviderRef: cb.Get("requestId"),
		Amount:      parseAmount(cb.Get("amount")),
	}
}
