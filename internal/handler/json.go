package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/reconcile"
)

func malformed(err error) error {
	return errors.Wrap(&order.InvalidInputError{Field: "body", Reason: "malformed JSON"}, err.Error())
}

// scalar reads a string or number token as text. Null and other kinds
// yield "".
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return n.String(), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

// decodeItem accepts the cart line shapes storefronts send: price as a
// number or a string, quantity as "quantity" or the legacy "qty". A
// missing or unparseable price counts as zero.
func decodeItem(d *jx.Decoder) (order.Item, error) {
	var (
		it     order.Item
		qty    string
		legacy string
		hasQty bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "productId", "product_id", "id":
			it.ProductID, err = scalar(d)
		case "name":
			it.Name, err = scalar(d)
		case "price":
			v, err = scalar(d)
			it.UnitPrice = amount.ParsePrice(v)
		case "quantity":
			qty, err = scalar(d)
			hasQty = true
		case "qty":
			legacy, err = scalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return it, err
	}
	if !hasQty {
		qty = legacy
	}
	it.Quantity = amount.ParseQuantity(qty)
	return it, nil
}

func decodeCustomer(d *jx.Decoder) (order.Customer, error) {
	var c order.Customer
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			c.Name, err = scalar(d)
		case "email":
			c.Email, err = scalar(d)
		case "phone":
			c.Phone, err = scalar(d)
		case "address":
			c.Address, err = scalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func decodeCreateOrder(data []byte) (reconcile.CreateOrderRequest, error) {
	var req reconcile.CreateOrderRequest
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				req.Items = append(req.Items, it)
				return err
			})
		case "customer":
			c, err := decodeCustomer(d)
			req.Customer = c
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, malformed(err)
	}
	return req, nil
}

// decodeField reads one string field of a JSON object body. Form bodies
// are accepted as well, since hosted checkout pages post forms.
func decodeField(r *http.Request, data []byte, field string) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		n := payment.Notification{Body: data}
		form, err := n.Form()
		if err != nil {
			return "", &order.InvalidInputError{Field: "body", Reason: "malformed form"}
		}
		return form.Get(field), nil
	}
	if len(data) == 0 {
		return "", nil
	}
	var v string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != field {
			return d.Skip()
		}
		var err error
		v, err = scalar(d)
		return err
	})
	if err != nil {
		return "", malformed(err)
	}
	return v, nil
}

func encodeAmount(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(amount.Format(d)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				optStr(e, "productId", it.ProductID)
				optStr(e, "name", it.Name)
				e.Field("price", func(e *jx.Encoder) { encodeAmount(e, it.UnitPrice) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			})
		}
	})
}

// encodeOrder writes the order view. The customer is only included for
// operator routes.
func EncodeOrder(e *jx.Encoder, o *order.Order, withCustomer bool) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, o.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		optStr(e, "gateway", o.Gateway)
		optStr(e, "transactionId", o.GatewayTransactionID)
		optStr(e, "failureReason", o.FailureReason)
		e.Field("items", func(e *jx.Encoder) { encodeItems(e, o.Items) })
		if withCustomer {
			e.Field("customer", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
					e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
					optStr(e, "phone", o.Customer.Phone)
					optStr(e, "address", o.Customer.Address)
				})
			})
		}
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		if o.PaidAt != nil {
			e.Field("paidAt", func(e *jx.Encoder) { encodeTime(e, *o.PaidAt) })
		}
	})
}

// EncodeEvent writes one audit event.
func EncodeEvent(e *jx.Encoder, ev order.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(ev.ID) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(ev.Kind)) })
		optStr(e, "gateway", ev.Gateway)
		optStr(e, "from", string(ev.FromStatus))
		optStr(e, "to", string(ev.ToStatus))
		optStr(e, "detail", ev.Detail)
		e.Field("at", func(e *jx.Encoder) { encodeTime(e, ev.CreatedAt) })
	})
}

// writeJSON writes the encoder output as the response body.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}
