package payfast

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/signature"
)

func testConfig() Config {
	return Config{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  "jt7NOE43FZPn",
		ReturnURL:   "https://shop.example/payment-success.html",
		CancelURL:   "https://shop.example/payment-cancelled.html",
		NotifyURL:   "https://api.example/api/notify/payfast",
	}
}

func testOrder() *order.Order {
	return &order.Order{
		ID:     "ord-1",
		Amount: decimal.RequireFromString("175"),
		Items: []order.Item{
			{Name: "Sneakers", UnitPrice: decimal.RequireFromString("50"), Quantity: 2},
			{Name: "Cap", UnitPrice: decimal.RequireFromString("75"), Quantity: 1},
		},
		Customer: order.Customer{Name: "Thandi van der Merwe", Email: "thandi@example.com", Phone: "+27 82 555 0101"},
	}
}

func TestPrepare_RedirectURL(t *testing.T) {
	g := New(testConfig())
	prep, err := g.Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(prep.RedirectURL, sandboxURL+"?"))

	u, err := url.Parse(prep.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "175.00", q.Get("amount"))
	assert.Equal(t, "ord-1", q.Get("m_payment_id"))
	assert.Equal(t, "Thandi", q.Get("name_first"))
	assert.Equal(t, "van der Merwe", q.Get("name_last"))
	assert.Equal(t, "27825550101", q.Get("cell_number"))
	assert.Equal(t, "Sneakers, Cap", q.Get("item_description"))
	assert.Equal(t, "https://shop.example/payment-success.html?order=ord-1", q.Get("return_url"))

	assert.True(t, signature.PayFast.VerifyParams(q, "jt7NOE43FZPn"))
	assert.False(t, signature.PayFast.VerifyParams(q, "other"))
}

func TestPrepare_KnownSignature(t *testing.T) {
	// Fields sorted by key, values query-escaped, empty values dropped.
	const fields = "amount=175.00" +
		"&cancel_url=https%3A%2F%2Fshop.example%2Fpayment-cancelled.html%3Forder%3Dord-1" +
		"&cell_number=27825550101" +
		"&email_address=thandi%40example.com" +
		"&item_description=Sneakers%2C+Cap" +
		"&item_name=Order+%23ord-1" +
		"&m_payment_id=ord-1" +
		"&merchant_id=10000100" +
		"&merchant_key=46f0cd694581a" +
		"&name_first=Thandi" +
		"&name_last=van+der+Merwe" +
		"&notify_url=https%3A%2F%2Fapi.example%2Fapi%2Fnotify%2Fpayfast" +
		"&return_url=https%3A%2F%2Fshop.example%2Fpayment-success.html%3Forder%3Dord-1"
	sum := md5.Sum([]byte(fields + "&passphrase=jt7NOE43FZPn")) //nolint:gosec
	want := hex.EncodeToString(sum[:])

	prep, err := New(testConfig()).Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, sandboxURL+"?"+fields+"&signature="+want, prep.RedirectURL)

	// Without a passphrase nothing is appended.
	cfg := testConfig()
	cfg.Passphrase = ""
	sum = md5.Sum([]byte(fields)) //nolint:gosec
	prep, err = New(cfg).Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(prep.RedirectURL, "&signature="+hex.EncodeToString(sum[:])))
}

func TestPrepare_LiveMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = payment.ModeLive
	prep, err := New(cfg).Prepare(context.Background(), testOrder())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prep.RedirectURL, liveURL))
}

func TestPrepare_NotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.MerchantKey = "REPLACE_WITH_YOUR_MERCHANT_KEY"
	_, err := New(cfg).Prepare(context.Background(), testOrder())
	require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
}

// ipn builds a signed notification body, keeping field order as given.
func ipn(t *testing.T, passphrase string, fields [][2]string) payment.Notification {
	t.Helper()
	params := url.Values{}
	var parts []string
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		params.Set(f[0], f[1])
		keys = append(keys, f[0])
		parts = append(parts, f[0]+"="+url.QueryEscape(f[1]))
	}
	sig := signature.PayFast.WithOrder(keys...).Sign(params, passphrase)
	parts = append(parts, "signature="+sig)
	return payment.Notification{Body: []byte(strings.Join(parts, "&"))}
}

func completeFields(status string) [][2]string {
	return [][2]string{
		{"m_payment_id", "ord-1"},
		{"pf_payment_id", "1089250"},
		{"payment_status", status},
		{"item_name", "Order #ord-1"},
		{"amount_gross", "175.00"},
		{"amount_fee", "-4.03"},
		{"amount_net", "170.97"},
		{"merchant_id", "10000100"},
	}
}

func TestNotify_Statuses(t *testing.T) {
	tests := []struct {
		status string
		want   payment.OutcomeStatus
	}{
		{"COMPLETE", payment.OutcomeSucceeded},
		{"PENDING", payment.OutcomePending},
		{"FAILED", payment.OutcomeFailed},
		{"CANCELLED", payment.OutcomeCancelled},
		{"WEIRD", payment.OutcomeUnknown},
	}
	g := New(testConfig())
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			out, err := g.Notify(context.Background(), ipn(t, "jt7NOE43FZPn", completeFields(tt.status)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "ord-1", out.OrderID)
			assert.Equal(t, "1089250", out.TransactionID)
			require.True(t, out.HasAmount)
			assert.True(t, decimal.RequireFromString("175").Equal(out.Amount))
		})
	}
}

func TestNotify_TamperedAmount(t *testing.T) {
	g := New(testConfig())
	n := ipn(t, "jt7NOE43FZPn", completeFields("COMPLETE"))
	n.Body = []byte(strings.Replace(string(n.Body), "amount_gross=175.00", "amount_gross=1.00", 1))

	_, err := g.Notify(context.Background(), n)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestNotify_WrongPassphrase(t *testing.T) {
	g := New(testConfig())
	_, err := g.Notify(context.Background(), ipn(t, "guess", completeFields("COMPLETE")))
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestNotify_MerchantMismatch(t *testing.T) {
	fields := completeFields("COMPLETE")
	fields[len(fields)-1] = [2]string{"merchant_id", "999"}

	_, err := New(testConfig()).Notify(context.Background(), ipn(t, "jt7NOE43FZPn", fields))
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestNotify_UnparseableAmount(t *testing.T) {
	g := New(testConfig())
	for _, raw := range []string{"R175", "175,00", "abc"} {
		t.Run(raw, func(t *testing.T) {
			fields := completeFields("COMPLETE")
			fields[4] = [2]string{"amount_gross", raw}
			_, err := g.Notify(context.Background(), ipn(t, "jt7NOE43FZPn", fields))
			require.ErrorIs(t, err, payment.ErrMalformedNotification)
		})
	}
}

func TestNotify_MissingFields(t *testing.T) {
	g := New(testConfig())
	for _, body := range []string{"", "m_payment_id=ord-1", "m_payment_id=ord-1&payment_status=COMPLETE", "%zz"} {
		_, err := g.Notify(context.Background(), payment.Notification{Body: []byte(body)})
		require.ErrorIs(t, err, payment.ErrMalformedNotification, body)
	}
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Cher ")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)

	first, _ = splitName(strings.Repeat("a", 40) + " b")
	assert.Len(t, first, maxNameLen)
}
