package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentCtx = PaymentContext{
	OrderID:         "order-1",
	TransactionCode: "TXN_1773478800_042137",
	Amount:          300000,
	OrderInfo:       "Thanh toan don hang order-1",
	ClientIP:        "203.0.113.9",
	CreatedAt:       time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC),
}

func cloneParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// assertEveryFieldSigned flips each listed field and expects verification to fail.
func assertEveryFieldSigned(t *testing.T, g Gateway, cb Callback, fields []string) {
	t.Helper()
	require.True(t, g.VerifyCallback(cb), "unmodified callback must verify")
	for _, field := range fields {
		tampered := Callback{Source: cb.Source, Params: cloneParams(cb.Params)}
		tampered.Params[field] = tampered.Params[field] + "1"
		assert.False(t, g.VerifyCallback(tampered), "altering %s must break the signature", field)
	}
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider(" MoMo ")
	assert.True(t, ok)
	assert.Equal(t, MoMo, p)

	_, ok = ParseProvider("stripe")
	assert.False(t, ok)
}

func TestRegistryDispatch(t *testing.T) {
	vnp := NewVNPay(config.VNPayConfig{TmnCode: "T", HashSecret: "S"})
	reg := NewRegistry(vnp, NewZaloPay(config.ZaloPayConfig{}, http.DefaultClient))

	g, err := reg.Get(VNPay)
	require.NoError(t, err)
	assert.Same(t, vnp, g)
	assert.Equal(t, []Provider{VNPay, ZaloPay}, reg.Providers())

	_, err = reg.Get(MoMo)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func newVNPay() *VNPayGateway {
	return NewVNPay(config.VNPayConfig{
		TmnCode:    "TICKET01",
		HashSecret: "VNPAYSECRETKEY0123456789",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://tickets.example.com/api/payments/vnpay-return",
	})
}

func TestVNPayPaymentURLRoundTrip(t *testing.T) {
	g := newVNPay()

	pu, err := g.GeneratePaymentURL(context.Background(), paymentCtx)
	require.NoError(t, err)
	assert.Equal(t, paymentCtx.TransactionCode, pu.ProviderRef)

	u, err := url.Parse(pu.URL)
	require.NoError(t, err)
	assert.Contains(t, u.RawQuery, "vnp_OrderInfo=Thanh+toan+don+hang+order-1", "spaces are form encoded")

	query := u.Query()
	assert.Equal(t, "30000000", query.Get("vnp_Amount"))
	assert.Equal(t, "20260314090000", query.Get("vnp_CreateDate"), "create date is Vietnam local time")
	assert.Equal(t, "2.1.0", query.Get("vnp_Version"))

	params := map[string]string{}
	for k := range query {
		params[k] = query.Get(k)
	}
	assert.True(t, g.VerifyCallback(Callback{Source: SourceReturn, Params: params}))
}

func signedVNPayCallback(g *VNPayGateway, responseCode string) Callback {
	params := map[string]string{
		"vnp_Amount":            "30000000",
		"vnp_BankCode":          "NCB",
		"vnp_BankTranNo":        "VNP14386231",
		"vnp_CardType":          "ATM",
		"vnp_OrderInfo":         "Thanh toan don hang order-1",
		"vnp_PayDate":           "20260314091500",
		"vnp_ResponseCode":      responseCode,
		"vnp_TmnCode":           "TICKET01",
		"vnp_TransactionNo":     "14386231",
		"vnp_TransactionStatus": responseCode,
		"vnp_TxnRef":            paymentCtx.TransactionCode,
	}
	params[vnpSecureHash] = signHex(sha512.New, g.cfg.HashSecret, vnpCanonical(params))
	params[vnpSecureHashType] = "HmacSHA512"
	return Callback{Source: SourceNotify, Params: params}
}

func TestVNPayCallback(t *testing.T) {
	g := newVNPay()
	cb := signedVNPayCallback(g, "00")

	assertEveryFieldSigned(t, g, cb, []string{"vnp_Amount", "vnp_ResponseCode", "vnp_TxnRef", "vnp_OrderInfo", "vnp_TransactionNo"})
	assert.True(t, g.IsPaymentSuccess(cb))

	corr := g.Correlate(cb)
	assert.Equal(t, paymentCtx.TransactionCode, corr.Code)
	assert.Equal(t, int64(300000), corr.Amount)
	assert.False(t, corr.AmountFallback)

	upper := Callback{Source: cb.Source, Params: cloneParams(cb.Params)}
	upper.Params[vnpSecureHash] = strings.ToUpper(upper.Params[vnpSecureHash])
	assert.True(t, g.VerifyCallback(upper))

	missing := Callback{Source: cb.Source, Params: cloneParams(cb.Params)}
	delete(missing.Params, vnpSecureHash)
	assert.False(t, g.VerifyCallback(missing))

	assert.False(t, g.IsPaymentSuccess(signedVNPayCallback(g, "24")))
}

func TestVNPayRequiresCredentials(t *testing.T) {
	_, err := NewVNPay(config.VNPayConfig{}).GeneratePaymentURL(context.Background(), paymentCtx)
	assert.True(t, errors.Is(err, apperror.ErrGateway))
}

func momoConfig(endpoint string) config.MoMoConfig {
	return config.MoMoConfig{
		PartnerCode: "MOMOTICKET",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		Endpoint:    endpoint,
		RedirectURL: "https://tickets.example.com/api/payments/momo-return",
		IPNURL:      "https://tickets.example.com/api/payments/momo-notify",
	}
}

func TestMoMoCreatePayment(t *testing.T) {
	var got momoCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 0, Message: "Successful.", PayURL: "https://test-payment.momo.vn/pay/abc"})
	}))
	defer srv.Close()

	cfg := momoConfig(srv.URL)
	g := NewMoMo(cfg, srv.Client())

	pu, err := g.GeneratePaymentURL(context.Background(), paymentCtx)
	require.NoError(t, err)
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", pu.URL)
	assert.Equal(t, got.RequestID, pu.ProviderRef)

	raw := "accessKey=" + cfg.AccessKey + "&amount=300000&extraData=&ipnUrl=" + cfg.IPNURL +
		"&orderId=" + paymentCtx.TransactionCode + "&orderInfo=" + paymentCtx.OrderInfo +
		"&partnerCode=" + cfg.PartnerCode + "&redirectUrl=" + cfg.RedirectURL +
		"&requestId=" + got.RequestID + "&requestType=payWithMethod"
	assert.Equal(t, signHex(sha256.New, cfg.SecretKey, raw), got.Signature)
	assert.Equal(t, paymentCtx.TransactionCode, got.OrderID)
}

func TestMoMoCreatePaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 13, Message: "Merchant authentication failed"})
	}))
	defer srv.Close()

	_, err := NewMoMo(momoConfig(srv.URL), srv.Client()).GeneratePaymentURL(context.Background(), paymentCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrGateway))
	assert.Contains(t, err.Error(), "Merchant authentication failed")
}

func signedMoMoCallback(g *MoMoGateway, resultCode string) Callback {
	params := map[string]string{
		"partnerCode":  "MOMOTICKET",
		"orderId":      paymentCtx.TransactionCode,
		"requestId":    "REQ_abc",
		"amount":       "300000",
		"orderInfo":    paymentCtx.OrderInfo,
		"orderType":    "momo_wallet",
		"transId":      "4088878653",
		"resultCode":   resultCode,
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1773479700000",
		"extraData":    "",
	}
	cb := Callback{Source: SourceNotify, Params: params}
	params["signature"] = signHex(sha256.New, g.cfg.SecretKey, g.callbackSignature(cb))
	return cb
}

func TestMoMoCallback(t *testing.T) {
	g := NewMoMo(momoConfig(""), http.DefaultClient)
	cb := signedMoMoCallback(g, "0")

	assertEveryFieldSigned(t, g, cb, momoCallbackFields)
	assert.True(t, g.IsPaymentSuccess(cb))
	assert.False(t, g.IsPaymentSuccess(signedMoMoCallback(g, "1006")))
	assert.False(t, g.IsPaymentSuccess(signedMoMoCallback(g, "")))

	corr := g.Correlate(cb)
	assert.Equal(t, paymentCtx.TransactionCode, corr.Code)
	assert.Equal(t, "REQ_abc", corr.ProviderRef)
	assert.Equal(t, int64(300000), corr.Amount)
}

func zaloConfig(endpoint string) config.ZaloPayConfig {
	return config.ZaloPayConfig{
		AppID:       "2553",
		Key1:        "PcY4iZIKFCIdgZvA6ueMcMHHUbRLYjPL",
		Key2:        "kLtgPl8HHhfvMuDHPwKfgfsY4Ydm9eIz",
		Endpoint:    endpoint,
		CallbackURL: "https://tickets.example.com/api/payments/zalopay-callback",
		RedirectURL: "https://tickets.example.com/api/payments/zalo-return",
	}
}

func TestZaloPayCreateOrder(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		json.NewEncoder(w).Encode(zaloCreateResponse{ReturnCode: 1, ReturnMessage: "Giao dịch thành công", OrderURL: "https://qcgateway.zalopay.vn/openinapp?order=xyz"})
	}))
	defer srv.Close()

	cfg := zaloConfig(srv.URL)
	g := NewZaloPay(cfg, srv.Client())

	pu, err := g.GeneratePaymentURL(context.Background(), paymentCtx)
	require.NoError(t, err)
	assert.Equal(t, "https://qcgateway.zalopay.vn/openinapp?order=xyz", pu.URL)
	assert.Equal(t, "260314_"+paymentCtx.TransactionCode, pu.ProviderRef)
	assert.Equal(t, pu.ProviderRef, form.Get("app_trans_id"))

	notify := Callback{Source: SourceNotify, Params: map[string]string{}}
	for _, k := range []string{"app_id", "app_trans_id", "app_user", "amount", "app_time", "embed_data", "item", "mac"} {
		notify.Params[k] = form.Get(k)
	}
	assert.True(t, g.VerifyCallback(notify), "the create mac is the callback mac format")
}

func TestZaloPayCreateOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(zaloCreateResponse{ReturnCode: 2, ReturnMessage: "mac invalid"})
	}))
	defer srv.Close()

	_, err := NewZaloPay(zaloConfig(srv.URL), srv.Client()).GeneratePaymentURL(context.Background(), paymentCtx)
	assert.True(t, errors.Is(err, apperror.ErrGateway))
}

func signedZaloNotify(g *ZaloPayGateway, status string) Callback {
	item, _ := json.Marshal([]zaloItem{{ItemID: paymentCtx.TransactionCode, ItemName: "order", ItemPrice: 300000, ItemQuantity: 1}})
	params := map[string]string{
		"app_id":       "2553",
		"app_trans_id": "260314_" + paymentCtx.TransactionCode,
		"app_user":     zaloAppUser,
		"amount":       "300000",
		"app_time":     "1773453600000",
		"embed_data":   `{"redirecturl":"https://tickets.example.com/api/payments/zalo-return"}`,
		"item":         string(item),
		"zp_trans_id":  "240314000000123",
		"status":       status,
	}
	data := strings.Join([]string{params["app_id"], params["app_trans_id"], params["app_user"], params["amount"], params["app_time"], params["embed_data"], params["item"]}, "|")
	params["mac"] = signHex(sha256.New, g.cfg.Key1, data)
	return Callback{Source: SourceNotify, Params: params}
}

func TestZaloPayNotifyCallback(t *testing.T) {
	g := NewZaloPay(zaloConfig(""), http.DefaultClient)
	cb := signedZaloNotify(g, "1")

	assertEveryFieldSigned(t, g, cb, []string{"app_id", "app_trans_id", "app_user", "amount", "app_time", "embed_data", "item"})
	assert.True(t, g.IsPaymentSuccess(cb))
	assert.False(t, g.IsPaymentSuccess(signedZaloNotify(g, "-1")))

	corr := g.Correlate(cb)
	assert.Equal(t, paymentCtx.TransactionCode, corr.Code)
	assert.Equal(t, "260314_"+paymentCtx.TransactionCode, corr.ProviderRef)
	assert.False(t, corr.AmountFallback)
}

func signedZaloReturn(g *ZaloPayGateway, key string) Callback {
	params := map[string]string{
		"appid":          "2553",
		"apptransid":     "260314_" + paymentCtx.TransactionCode,
		"pmcid":          "38",
		"bankcode":       "",
		"amount":         "300000",
		"discountamount": "0",
		"status":         "1",
	}
	data := strings.Join([]string{params["appid"], params["apptransid"], params["pmcid"], params["bankcode"], params["amount"], params["discountamount"], params["status"]}, "|")
	params["checksum"] = signHex(sha256.New, key, data)
	return Callback{Source: SourceReturn, Params: params}
}

func TestZaloPayReturnUsesSecondKey(t *testing.T) {
	g := NewZaloPay(zaloConfig(""), http.DefaultClient)
	cb := signedZaloReturn(g, g.cfg.Key2)

	assertEveryFieldSigned(t, g, cb, []string{"appid", "apptransid", "pmcid", "amount", "discountamount", "status"})
	assert.False(t, g.VerifyCallback(signedZaloReturn(g, g.cfg.Key1)), "key1 must not validate a browser return")

	corr := g.Correlate(cb)
	assert.Equal(t, paymentCtx.TransactionCode, corr.Code)
	assert.True(t, corr.AmountFallback)
	assert.Equal(t, int64(300000), corr.Amount)
}
