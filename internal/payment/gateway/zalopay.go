package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ms-ticketing-engine/internal/config"
)

const zaloAppUser = "TicketSystem"

type zaloItem struct {
	ItemID       string `json:"itemid"`
	ItemName     string `json:"itemname"`
	ItemPrice    int64  `json:"itemprice"`
	ItemQuantity int    `json:"itemquantity"`
}

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

// ZaloPayGateway signs the server callback with key1 and the browser
// return with key2.
type ZaloPayGateway struct {
	cfg    config.ZaloPayConfig
	client HTTPDoer
}

func NewZaloPay(cfg config.ZaloPayConfig, client HTTPDoer) *ZaloPayGateway {
	return &ZaloPayGateway{cfg: cfg, client: client}
}

func (g *ZaloPayGateway) Provider() Provider { return ZaloPay }

// AppTransID embeds the transaction code after the yyMMdd prefix ZaloPay
// requires, so both callback kinds round-trip the correlation code.
func AppTransID(pc PaymentContext) string {
	return pc.CreatedAt.In(vietnamTime).Format("060102") + "_" + pc.TransactionCode
}

func (g *ZaloPayGateway) GeneratePaymentURL(ctx context.Context, pc PaymentContext) (*PaymentURL, error) {
	appTransID := AppTransID(pc)
	appTime := strconv.FormatInt(pc.CreatedAt.UnixMilli(), 10)
	amount := strconv.FormatInt(pc.Amount, 10)

	item, err := json.Marshal([]zaloItem{{
		ItemID:       pc.TransactionCode,
		ItemName:     pc.OrderInfo,
		ItemPrice:    pc.Amount,
		ItemQuantity: 1,
	}})
	if err != nil {
		return nil, providerError(ZaloPay, "encode item: %v", err)
	}
	embed, err := json.Marshal(map[string]string{"redirecturl": g.cfg.RedirectURL})
	if err != nil {
		return nil, providerError(ZaloPay, "encode embed_data: %v", err)
	}

	data := strings.Join([]string{g.cfg.AppID, appTransID, zaloAppUser, amount, appTime, string(embed), string(item)}, "|")

	form := url.Values{}
	form.Set("app_id", g.cfg.AppID)
	form.Set("app_user", zaloAppUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("app_trans_id", appTransID)
	form.Set("description", pc.OrderInfo)
	form.Set("item", string(item))
	form.Set("embed_data", string(embed))
	form.Set("bank_code", "")
	form.Set("callback_url", g.cfg.CallbackURL)
	form.Set("mac", signHex(sha256.New, g.cfg.Key1, data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, providerError(ZaloPay, "build create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, providerError(ZaloPay, "create order: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, providerError(ZaloPay, "read create response: %v", err)
	}

	var result zaloCreateResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, providerError(ZaloPay, "decode create response (HTTP %d): %v", resp.StatusCode, err)
	}
	if result.ReturnCode != 1 || result.OrderURL == "" {
		return nil, providerError(ZaloPay, "order creation rejected: %s (code %d)", result.ReturnMessage, result.ReturnCode)
	}

	return &PaymentURL{URL: result.OrderURL, ProviderRef: appTransID}, nil
}

func (g *ZaloPayGateway) VerifyCallback(cb Callback) bool {
	if cb.Source == SourceReturn {
		data := strings.Join([]string{
			cb.Get("appid"), cb.Get("apptransid"), cb.Get("pmcid"), cb.Get("bankcode"),
			cb.Get("amount"), cb.Get("discountamount"), cb.Get("status"),
		}, "|")
		return verifyHex(sha256.New, g.cfg.Key2, data, cb.Get("checksum"))
	}

	data := strings.Join([]string{
		cb.Get("app_id"), cb.Get("app_trans_id"), cb.Get("app_user"), cb.Get("amount"),
		cb.Get("app_time"), cb.Get("embed_data"), cb.Get("item"),
	}, "|")
	return verifyHex(sha256.New, g.cfg.Key1, data, cb.Get("mac"))
}

func (g *ZaloPayGateway) IsPaymentSuccess(cb Callback) bool {
	status, err := strconv.Atoi(strings.TrimSpace(cb.Get("status")))
	return err == nil && status == 1
}

func (g *ZaloPayGateway) Correlate(cb Callback) Correlation {
	if cb.Source == SourceReturn {
		ref := cb.Get("apptransid")
		return Correlation{
			Code:           codeFromAppTransID(ref),
			ProviderRef:    ref,
			Amount:         parseAmount(cb.Get("amount")),
			AmountFallback: true,
		}
	}

	ref := cb.Get("app_trans_id")
	code := codeFromAppTransID(ref)
	var items []zaloItem
	if err := json.Unmarshal([]byte(cb.Get("item")), &items); err == nil && len(items) > 0 && items[0].ItemID != "" {
		code = items[0].ItemID
	}
	return Correlation{
		Code:        code,
		ProviderRef: ref,
		Amount:      parseAmount(cb.Get("amount")),
	}
}

func codeFromAppTransID(ref string) string {
	if _, code, ok := strings.Cut(ref, "_"); ok {
		return code
	}
	return ""
}
