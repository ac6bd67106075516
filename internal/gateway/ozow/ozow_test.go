package ozow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

const privateKey = "ozow-private"

func testConfig() Config {
	return Config{
		SiteCode:   "TSTSTE0001",
		APIKey:     "api-key",
		PrivateKey: privateKey,
		SuccessURL: "https://shop.example/payment-success.html",
		CancelURL:  "https://shop.example/payment-cancelled.html",
		NotifyURL:  "https://api.example/api/notify/ozow",
	}
}

func testOrder() *order.Order {
	return &order.Order{
		ID:       "ord-7",
		Amount:   decimal.RequireFromString("299.97"),
		Currency: "ZAR",
		Customer: order.Customer{Name: "Sipho Dlamini", Email: "sipho@example.com", Phone: "0825550101"},
	}
}

type apiStub struct {
	t      *testing.T
	status int
	body   string
	got    map[string]string
	auth   string
	calls  int
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls++
	s.auth = r.Header.Get("Authorization")
	raw, err := io.ReadAll(r.Body)
	require.NoError(s.t, err)

	s.got = map[string]string{}
	require.NoError(s.t, jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			s.got[key] = v
			return err
		case jx.Number:
			n, err := d.Num()
			s.got[key] = n.String()
			return err
		case jx.Bool:
			v, err := d.Bool()
			if v {
				s.got[key] = "true"
			} else {
				s.got[key] = "false"
			}
			return err
		default:
			return d.Skip()
		}
	}))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(s.status)
	_, _ = io.WriteString(w, s.body)
}

func newTestGateway(t *testing.T, stub *apiStub, cfg Config) *Gateway {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL
	return New(cfg, gateway.NewClient(Name))
}

func TestPrepare(t *testing.T) {
	stub := &apiStub{t: t, status: http.StatusOK, body: `{"paymentRequestId":"pr-1","url":"https://pay.ozow.com/pr-1","errorMessage":null}`}
	g := newTestGateway(t, stub, testConfig())

	prep, err := g.Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.ozow.com/pr-1", prep.RedirectURL)
	assert.Equal(t, "pr-1", prep.Reference)

	assert.Equal(t, "Bearer api-key", stub.auth)
	assert.Equal(t, "29997", stub.got["Amount"])
	assert.Equal(t, "ord-7", stub.got["TransactionReference"])
	assert.Equal(t, BankReference("ord-7"), stub.got["BankReference"])
	assert.Equal(t, "true", stub.got["IsTest"])
	assert.Equal(t, "https://shop.example/payment-cancelled.html?order=ord-7", stub.got["ErrorUrl"])

	params := url.Values{}
	for k, v := range stub.got {
		params.Set(k, v)
	}
	assert.True(t, requestScheme.VerifyParams(params, privateKey))
}

func TestPrepare_RedirectURLField(t *testing.T) {
	stub := &apiStub{t: t, status: http.StatusOK, body: `{"RedirectUrl":"https://pay.ozow.com/x"}`}
	prep, err := newTestGateway(t, stub, testConfig()).Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.ozow.com/x", prep.RedirectURL)
}

func TestPrepare_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
		msg    string
	}{
		{"rejected", http.StatusBadRequest, `{"Message":"Invalid site code"}`, http.StatusBadRequest, "Invalid site code"},
		{"no redirect", http.StatusOK, `{"Message":"Amount too small"}`, http.StatusBadGateway, "Amount too small"},
		{"server error", http.StatusInternalServerError, `oops`, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &apiStub{t: t, status: tt.status, body: tt.body}
			_, err := newTestGateway(t, stub, testConfig()).Prepare(context.Background(), testOrder())

			var gwErr *payment.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.code, gwErr.StatusCode)
			assert.Equal(t, tt.msg, gwErr.Message)
		})
	}
}

func TestPrepare_NotConfigured(t *testing.T) {
	stub := &apiStub{t: t, status: http.StatusOK}
	cfg := testConfig()
	cfg.APIKey = "REPLACE_WITH_OZOW_API_KEY"

	_, err := newTestGateway(t, stub, cfg).Prepare(context.Background(), testOrder())
	require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
	assert.Zero(t, stub.calls)
}

func notification(status, amount, key string) payment.Notification {
	params := url.Values{
		"SiteCode":             {"TSTSTE0001"},
		"TransactionId":        {"tx-42"},
		"TransactionReference": {"ord-7"},
		"Amount":               {amount},
		"Status":               {status},
		"CurrencyCode":         {"ZAR"},
		"IsTest":               {"true"},
	}
	params.Set("Hash", signature.Ozow.Sign(params, key))
	return payment.Notification{Body: []byte(params.Encode())}
}

func TestNotify_Statuses(t *testing.T) {
	tests := []struct {
		status string
		want   payment.OutcomeStatus
	}{
		{"Complete", payment.OutcomeSucceeded},
		{"Pending", payment.OutcomePending},
		{"PendingInvestigation", payment.OutcomePending},
		{"Cancelled", payment.OutcomeCancelled},
		{"Error", payment.OutcomeFailed},
		{"Abandoned", payment.OutcomeFailed},
		{"Refunded", payment.OutcomeUnknown},
	}
	g := New(testConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			out, err := g.Notify(context.Background(), notification(tt.status, "29997", privateKey))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "ord-7", out.OrderID)
			assert.Equal(t, "tx-42", out.TransactionID)
			require.True(t, out.HasAmount)
			assert.True(t, decimal.RequireFromString("299.97").Equal(out.Amount))
		})
	}
}

func TestNotify_Rejected(t *testing.T) {
	g := New(testConfig(), nil)

	_, err := g.Notify(context.Background(), notification("Complete", "29997", "wrong"))
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)

	n := notification("Complete", "29997", privateKey)
	n.Body = []byte(strings.Replace(string(n.Body), "Amount=29997", "Amount=100", 1))
	_, err = g.Notify(context.Background(), n)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)

	cfg := testConfig()
	cfg.SiteCode = "OTHER"
	_, err = New(cfg, nil).Notify(context.Background(), notification("Complete", "29997", privateKey))
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestNotify_Malformed(t *testing.T) {
	g := New(testConfig(), nil)
	for _, body := range []string{"", "Status=Complete", "TransactionReference=o&Status=Complete", "%"} {
		_, err := g.Notify(context.Background(), payment.Notification{Body: []byte(body)})
		require.ErrorIs(t, err, payment.ErrMalformedNotification, body)
	}
}

func TestNotify_UnparseableAmount(t *testing.T) {
	g := New(testConfig(), nil)
	for _, raw := range []string{"299.97", "R299", "1e3"} {
		t.Run(raw, func(t *testing.T) {
			_, err := g.Notify(context.Background(), notification("Complete", raw, privateKey))
			require.ErrorIs(t, err, payment.ErrMalformedNotification)
		})
	}

	out, err := g.Notify(context.Background(), notification("Complete", "", privateKey))
	require.NoError(t, err)
	assert.False(t, out.HasAmount)
}

func TestBankReference(t *testing.T) {
	ref := BankReference("ord-7")
	assert.Len(t, ref, 20)
	assert.Equal(t, ref, BankReference("ord-7"))
	assert.NotEqual(t, ref, BankReference("ord-8"))
}
