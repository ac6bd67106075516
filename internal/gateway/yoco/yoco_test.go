package yoco

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

const (
	testKey    = "sk_test_960bfde0VBrLlpK098e4ffeb53e1"
	testPublic = "pk_test_ed3c54a6gOol69qa7f45"
	testSecret = "whsec_eW9jby13ZWJob29rLWtleQ=="
)

func testOrder() *order.Order {
	return &order.Order{
		ID:       "ord-1",
		Amount:   decimal.RequireFromString("175.00"),
		Currency: "ZAR",
		Customer: order.Customer{Name: "Thandi Nkosi", Email: "thandi@example.com"},
		Status:   order.StatusAwaitingGateway,
	}
}

type apiStub struct {
	t      *testing.T
	status int
	body   string
	called bool
	req    map[string]string
	header http.Header
}

// handler records the top-level scalar fields and the metadata object of
// the charge request.
func (s *apiStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, "/v1/charges/", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(s.t, err)
		s.called = true
		s.header = r.Header.Clone()
		s.req = map[string]string{}
		require.NoError(s.t, jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
			switch d.Next() {
			case jx.Object:
				return d.Obj(func(d *jx.Decoder, sub string) error {
					v, err := d.Str()
					s.req[key+"."+sub] = v
					return err
				})
			case jx.Number:
				n, err := d.Num()
				s.req[key] = n.String()
				return err
			default:
				v, err := d.Str()
				s.req[key] = v
				return err
			}
		}))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.body)
	})
}

func newTestGateway(t *testing.T, stub *apiStub, cfg Config) *Gateway {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg.APIURL = srv.URL
	if cfg.SecretKey == "" {
		cfg.SecretKey = testKey
	}
	if cfg.PublicKey == "" {
		cfg.PublicKey = testPublic
	}
	return New(cfg, gateway.NewClient(Name))
}

func TestPrepare(t *testing.T) {
	stub := &apiStub{t: t}
	g := newTestGateway(t, stub, Config{})

	prep, err := g.Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, testPublic, prep.ClientSecret)
	assert.Empty(t, prep.RedirectURL)
	assert.False(t, stub.called)
}

func TestNotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"placeholder secret", Config{SecretKey: "sk_test_REPLACE_WITH_YOUR_YOCO_SECRET_KEY"}},
		{"placeholder public", Config{PublicKey: "pk_test_REPLACE_WITH_YOUR_YOCO_PUBLIC_KEY"}},
		{"test key in live mode", Config{Mode: payment.ModeLive}},
		{"live key in test mode", Config{SecretKey: "sk_live_1", Mode: payment.ModeTest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &apiStub{t: t, status: http.StatusOK, body: `{}`}
			g := newTestGateway(t, stub, tt.cfg)

			_, err := g.Prepare(context.Background(), testOrder())
			require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
			if tt.name != "placeholder public" {
				_, err = g.Charge(context.Background(), testOrder(), "tok_1")
				require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
			}
			assert.False(t, stub.called, "gateway must not be called")
		})
	}
}

func TestCharge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   payment.OutcomeStatus
		txID   string
		code   string
	}{
		{"Successful", http.StatusCreated, `{"id":"ch_1","status":"successful","currency":"ZAR","amountInCents":17500,"liveMode":false,"metadata":{"orderId":"ord-1"}}`, payment.OutcomeSucceeded, "ch_1", "successful"},
		{"Pending", http.StatusOK, `{"id":"ch_2","status":"pending","amountInCents":17500,"metadata":null}`, payment.OutcomePending, "ch_2", "pending"},
		{"Declined", http.StatusBadRequest, `{"errorType":"card_error","errorCode":"card_declined","displayMessage":"Your card was declined."}`, payment.OutcomeFailed, "", "card_declined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &apiStub{t: t, status: tt.status, body: tt.body}
			g := newTestGateway(t, stub, Config{})

			out, err := g.Charge(context.Background(), testOrder(), "tok_test_abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "ord-1", out.OrderID)
			assert.Equal(t, tt.txID, out.TransactionID)
			assert.Equal(t, tt.code, out.ProviderStatus)
			if tt.txID != "" {
				require.True(t, out.HasAmount)
				assert.True(t, decimal.RequireFromString("175").Equal(out.Amount))
			}

			assert.Equal(t, "tok_test_abc", stub.req["token"])
			assert.Equal(t, "17500", stub.req["amount"])
			assert.Equal(t, "ZAR", stub.req["currency"])
			assert.Equal(t, "ord-1", stub.req["metadata.orderId"])
			assert.Equal(t, "thandi@example.com", stub.req["metadata.customerEmail"])
			assert.Equal(t, testKey, stub.header.Get("X-Auth-Secret-Key"))
			assert.Equal(t, "charge-ord-1-tok_test_abc", stub.header.Get("Idempotency-Key"))
		})
	}
}

func TestCharge_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      int
		msg       string
		transient bool
	}{
		{"Rejected", http.StatusBadRequest, `{"errorType":"invalid_request_error","errorCode":"invalid_token","errorMessage":"Token has expired"}`, http.StatusBadRequest, "Token has expired", false},
		{"Unauthorized", http.StatusUnauthorized, `not json`, http.StatusUnauthorized, "", false},
		{"Unavailable", http.StatusServiceUnavailable, `{}`, http.StatusServiceUnavailable, "", true},
		{"Undecodable", http.StatusOK, `{"status":"successful"}`, http.StatusOK, "decode response: charge id missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, &apiStub{t: t, status: tt.status, body: tt.body}, Config{})

			_, err := g.Charge(context.Background(), testOrder(), "tok_1")
			var gwErr *payment.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.code, gwErr.StatusCode)
			assert.Equal(t, tt.msg, gwErr.Message)
			assert.Equal(t, tt.transient, payment.IsTransient(err))
		})
	}
}

func TestCharge_MissingToken(t *testing.T) {
	stub := &apiStub{t: t}
	_, err := newTestGateway(t, stub, Config{}).Charge(context.Background(), testOrder(), " ")

	var inv *order.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "token", inv.Field)
	assert.False(t, stub.called)
}

func webhook(body, id string, at time.Time, secret string) payment.Notification {
	h := http.Header{}
	h.Set(signature.WebhookIDHeader, id)
	h.Set(signature.WebhookTimestampHeader, strconv.FormatInt(at.Unix(), 10))
	h.Set(signature.WebhookSignatureHeader, signature.SignWebhook(id, at, []byte(body), secret))
	return payment.Notification{Body: []byte(body), Header: h}
}

func eventBody(typ string) string {
	return fmt.Sprintf(`{"id":"evt_1","type":%q,"createdDate":"2025-05-01T12:00:00Z","payload":{"id":"p_9","type":"payment","amount":17500,"currency":"ZAR","status":"succeeded","metadata":{"orderId":"ord-1","checkoutId":"ch_x"}}}`, typ)
}

func TestNotify_EventMapping(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := New(Config{SecretKey: testKey, WebhookSecret: testSecret}, nil)
	g.now = func() time.Time { return now }

	tests := []struct {
		typ  string
		want payment.OutcomeStatus
	}{
		{"payment.succeeded", payment.OutcomeSucceeded},
		{"payment.failed", payment.OutcomeFailed},
		{"refund.succeeded", payment.OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			out, err := g.Notify(context.Background(), webhook(eventBody(tt.typ), "msg_1", now, testSecret))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, tt.typ, out.ProviderStatus)
			assert.Equal(t, "ord-1", out.OrderID)
			assert.Equal(t, "p_9", out.TransactionID)
			require.True(t, out.HasAmount)
			assert.True(t, decimal.RequireFromString("175").Equal(out.Amount))
		})
	}
}

func TestNotify_Rejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := New(Config{SecretKey: testKey, WebhookSecret: testSecret}, nil)
	g.now = func() time.Time { return now }
	body := eventBody("payment.succeeded")

	tests := []struct {
		name string
		n    payment.Notification
		err  error
	}{
		{"WrongSecret", webhook(body, "msg_1", now, "whsec_b3RoZXI="), payment.ErrSignatureInvalid},
		{"Stale", webhook(body, "msg_1", now.Add(-time.Hour), testSecret), payment.ErrSignatureInvalid},
		{"Unsigned", payment.Notification{Body: []byte(body), Header: http.Header{}}, payment.ErrSignatureInvalid},
		{"NoType", webhook(`{"id":"evt_1","payload":{}}`, "msg_1", now, testSecret), payment.ErrMalformedNotification},
		{"NotJSON", webhook(`type=payment.succeeded`, "msg_1", now, testSecret), payment.ErrMalformedNotification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Notify(context.Background(), tt.n)
			require.ErrorIs(t, err, tt.err)
		})
	}

	_, err := New(Config{SecretKey: testKey}, nil).Notify(context.Background(), webhook(body, "msg_1", now, testSecret))
	require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
}
