package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset"
)

// Extractor turns a payload into a Transaction. Every error it returns is a validation
// failure and therefore permanent.
type Extractor func(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error)

// gatewayPayment reads card/bank-transfer payments: integer minor-unit amounts under data.
func gatewayPayment(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error) {
	return build(event, rs, fields{
		id:           firstString(data, "reference", "id"),
		currency:     data.Get("currency").String(),
		minorAmount:  data.Get("amount"),
		direction:    model.DirectionCredit,
		narration:    firstString(data, "metadata.narration", "description", "narration"),
		counterparty: firstString(data, "customer.email", "customer.customer_code", "authorization.account_name"),
		occurredAt:   firstString(data, "paid_at", "paidAt", "created_at", "createdAt"),
	})
}

// transfer reads outgoing payouts.
func transfer(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error) {
	return build(event, rs, fields{
		id:           firstString(data, "reference", "transfer_code", "id"),
		currency:     data.Get("currency").String(),
		minorAmount:  data.Get("amount"),
		direction:    model.DirectionDebit,
		narration:    firstString(data, "reason", "narration"),
		counterparty: firstString(data, "recipient.name", "recipient.details.account_name"),
		occurredAt:   firstString(data, "transferred_at", "updated_at", "created_at", "createdAt"),
	})
}

// refund reads refunds of an earlier payment. A payment can be refunded in several parts, so
// each refund is keyed on its own id (or the event id when the payload has none) and the
// refunded payment's reference is carried separately.
func refund(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error) {
	narration := firstString(data, "merchant_note", "customer_note", "reason")
	if narration == "" {
		narration = "Refund"
	}
	id := firstString(data, "id", "refund_reference", "refund_id")
	if id == "" {
		id = event.EventID
	}
	return build(event, rs, fields{
		id:           id,
		related:      firstString(data, "transaction_reference", "transaction.reference"),
		currency:     data.Get("currency").String(),
		minorAmount:  data.Get("amount"),
		direction:    model.DirectionDebit,
		narration:    narration,
		counterparty: firstString(data, "customer.email"),
		occurredAt:   firstString(data, "refunded_at", "created_at", "createdAt"),
	})
}

// posSale reads point-of-sale sales with money objects.
func posSale(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error) {
	money := data.Get("total_money")
	if !money.Exists() {
		money = data.Get("amount_money")
	}
	return build(event, rs, fields{
		id:           firstString(data, "id", "order_id"),
		currency:     money.Get("currency").String(),
		minorAmount:  money.Get("amount"),
		direction:    model.DirectionCredit,
		narration:    firstString(data, "note", "line_items.0.name"),
		counterparty: firstString(data, "customer_id"),
		occurredAt:   firstString(data, "created_at"),
	})
}

// bankFeed reads account statement lines, whose amounts are decimal major units.
func bankFeed(direction model.Direction) Extractor {
	return func(event model.InboundEvent, data gjson.Result, rs *ruleset.Ruleset) (model.Transaction, error) {
		return build(event, rs, fields{
			id:           firstString(data, "id", "_id"),
			currency:     data.Get("currency").String(),
			majorAmount:  data.Get("amount"),
			direction:    direction,
			narration:    firstString(data, "narration", "description"),
			counterparty: firstString(data, "counterparty.name", "counterparty.account_number"),
			occurredAt:   firstString(data, "date", "created_at"),
		})
	}
}

type fields struct {
	id           string
	currency     string
	minorAmount  gjson.Result
	majorAmount  gjson.Result
	direction    model.Direction
	narration    string
	counterparty string
	related      string
	occurredAt   string
}

func build(event model.InboundEvent, rs *ruleset.Ruleset, f fields) (model.Transaction, error) {
	var errs []error

	if f.id == "" {
		errs = append(errs, errors.New("missing transaction id"))
	}

	currency := strings.ToUpper(strings.TrimSpace(f.currency))
	units, err := rs.MinorUnits(currency)
	if currency == "" {
		errs = append(errs, errors.New("missing currency"))
	} else if err != nil {
		errs = append(errs, fmt.Errorf("currency %q: %w", currency, err))
	}

	var amount decimal.Decimal
	switch {
	case f.minorAmount.Exists():
		minor, err := decimal.NewFromString(numberText(f.minorAmount))
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("amount %q is not a number", numberText(f.minorAmount)))
		case !minor.IsInteger():
			errs = append(errs, fmt.Errorf("amount %s is not a whole number of minor units", minor))
		default:
			amount = minor.Shift(-units)
		}
	case f.majorAmount.Exists():
		amount, err = decimal.NewFromString(numberText(f.majorAmount))
		if err != nil {
			errs = append(errs, fmt.Errorf("amount %q is not a number", numberText(f.majorAmount)))
		}
	default:
		errs = append(errs, errors.New("missing amount"))
	}
	if len(errs) == 0 && !amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount must be positive, got %s", amount))
	}

	occurredAt := event.ReceivedAt
	if f.occurredAt != "" {
		t, err := parseTime(f.occurredAt)
		if err != nil {
			errs = append(errs, err)
		} else {
			occurredAt = t
		}
	}

	if len(errs) > 0 {
		return model.Transaction{}, errors.Join(errs...)
	}

	tx := model.Transaction{
		TransactionID: f.id,
		GrossAmount:   amount,
		Currency:      currency,
		Direction:     f.direction,
		Narration:     strings.TrimSpace(f.narration),
		OccurredAt:    occurredAt.UTC(),
	}
	if f.counterparty != "" {
		c := f.counterparty
		tx.CounterpartyRef = &c
	}
	if f.related != "" && f.related != f.id {
		r := f.related
		tx.RelatedTransactionID = &r
	}
	return tx, nil
}

// numberText returns the literal JSON text of numbers so decimal sees every digit;
// gjson's String() would round them through float64.
func numberText(r gjson.Result) string {
	if r.Type == gjson.Number {
		return r.Raw
	}
	return r.String()
}

func parseTime(raw string) (time.Time, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
