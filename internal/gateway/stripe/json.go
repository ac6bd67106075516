package stripe

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/payment"
)

type intent struct {
	ID             string
	ClientSecret   string
	Status         string
	Amount         int64
	AmountReceived int64
	HasAmount      bool
	OrderID        string
	LastError      string
}

func (pi *intent) outcome() *payment.Outcome {
	out := &payment.Outcome{
		OrderID:        pi.OrderID,
		TransactionID:  pi.ID,
		ProviderStatus: pi.Status,
	}
	switch pi.Status {
	case "succeeded":
		out.Status = payment.OutcomeSucceeded
	case "processing", "requires_action", "requires_confirmation", "requires_capture":
		out.Status = payment.OutcomePending
	case "requires_payment_method":
		out.Status = payment.OutcomeFailed
	case "canceled":
		out.Status = payment.OutcomeCancelled
	default:
		out.Status = payment.OutcomeUnknown
	}
	if pi.HasAmount {
		minor := pi.Amount
		if pi.AmountReceived > 0 {
			minor = pi.AmountReceived
		}
		out.Amount = amount.FromMinorUnits(minor)
		out.HasAmount = true
	}
	return out
}

type event struct {
	ID     string
	Type   string
	Intent *intent
}

// cardError is a declined charge.
type cardError struct {
	Type    string
	Code    string
	Message string
	Intent  *intent
}

func (e *cardError) Error() string {
	return "card error: " + e.Code + ": " + e.Message
}

func nullable(d *jx.Decoder, f func(d *jx.Decoder) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return f(d)
}

func readStr(d *jx.Decoder, dst *string) error {
	return nullable(d, func(d *jx.Decoder) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
}

func readIntent(d *jx.Decoder, pi *intent) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &pi.ID)
		case "client_secret":
			return readStr(d, &pi.ClientSecret)
		case "status":
			return readStr(d, &pi.Status)
		case "amount":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			pi.Amount, pi.HasAmount = v, true
			return nil
		case "amount_received":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "amount_received")
			}
			pi.AmountReceived = v
			return nil
		case "metadata":
			return nullable(d, func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key == "orderId" {
						return readStr(d, &pi.OrderID)
					}
					return d.Skip()
				})
			})
		case "last_payment_error":
			return nullable(d, func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key == "message" {
						return readStr(d, &pi.LastError)
					}
					return d.Skip()
				})
			})
		default:
			return d.Skip()
		}
	})
}

func decodeIntent(data []byte) (*intent, error) {
	var pi intent
	if err := readIntent(jx.DecodeBytes(data), &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

func decodeEvent(data []byte) (*event, error) {
	var ev event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &ev.ID)
		case "type":
			return readStr(d, &ev.Type)
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				ev.Intent = new(intent)
				return readIntent(d, ev.Intent)
			})
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

func decodeAPIError(data []byte) (*cardError, error) {
	var ce cardError
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "type":
				return readStr(d, &ce.Type)
			case "code":
				return readStr(d, &ce.Code)
			case "message":
				return readStr(d, &ce.Message)
			case "payment_intent":
				return nullable(d, func(d *jx.Decoder) error {
					ce.Intent = new(intent)
					return readIntent(d, ce.Intent)
				})
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return &ce, nil
}
