package yoco

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
)

func encodeCharge(o *order.Order, currency, token string) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("token", func(e *jx.Encoder) { e.Str(token) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(amount.MinorUnits(o.Amount)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
		e.Field("description", func(e *jx.Encoder) { e.Str("Order #" + o.ID) })
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
				e.Field("customerEmail", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
			})
		})
	})
	return append([]byte(nil), e.Bytes()...)
}

// charge is a charge or payment object.
type charge struct {
	ID        string
	Status    string
	Amount    int64
	HasAmount bool
	OrderID   string
}

func (c *charge) outcome() *payment.Outcome {
	out := &payment.Outcome{
		OrderID:        c.OrderID,
		TransactionID:  c.ID,
		ProviderStatus: c.Status,
	}
	switch c.Status {
	case "successful", "succeeded":
		out.Status = payment.OutcomeSucceeded
	case "pending", "processing":
		out.Status = payment.OutcomePending
	case "failed", "declined":
		out.Status = payment.OutcomeFailed
	case "cancelled", "canceled":
		out.Status = payment.OutcomeCancelled
	default:
		out.Status = payment.OutcomeUnknown
	}
	if c.HasAmount {
		out.Amount, out.HasAmount = amount.FromMinorUnits(c.Amount), true
	}
	return out
}

type event struct {
	ID      string
	Type    string
	Payment charge
}

type apiError struct {
	Type           string
	Code           string
	DisplayMessage string
	Message        string
}

func (e *apiError) declined() bool { return e.Type == "card_error" }

func (e *apiError) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.DisplayMessage
}

func readStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func readCharge(d *jx.Decoder, c *charge) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &c.ID)
		case "status":
			return readStr(d, &c.Status)
		case "amount", "amountInCents":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, key)
			}
			c.Amount, c.HasAmount = v, true
			return nil
		case "metadata":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key == "orderId" {
					return readStr(d, &c.OrderID)
				}
				return d.Skip()
			})
		default:
			return d.Skip()
		}
	})
}

func decodeCharge(data []byte) (*charge, error) {
	var c charge
	if err := readCharge(jx.DecodeBytes(data), &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, errors.New("charge id missing")
	}
	return &c, nil
}

func decodeEvent(data []byte) (*event, error) {
	var ev event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &ev.ID)
		case "type":
			return readStr(d, &ev.Type)
		case "payload":
			return readCharge(d, &ev.Payment)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, errors.New("event type missing")
	}
	return &ev, nil
}

func decodeAPIError(data []byte) (*apiError, error) {
	var ae apiError
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "errorType":
			return readStr(d, &ae.Type)
		case "errorCode":
			return readStr(d, &ae.Code)
		case "displayMessage":
			return readStr(d, &ae.DisplayMessage)
		case "errorMessage":
			return readStr(d, &ae.Message)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &ae, nil
}
