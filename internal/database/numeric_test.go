package database

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestNumericRoundTrip(t *testing.T) {
	cases := []string{"0", "12.5", "51.00", "1234567.89"}
	for _, c := range cases {
		d := decimal.RequireFromString(c)
		got := NumericToDecimal(DecimalToNumeric(d))
		if !got.Equal(d) {
			t.Errorf("round trip %s: got %s", c, got)
		}
	}
}

func TestNumericToDecimal_Null(t *testing.T) {
	if got := NumericToDecimal(pgtype.Numeric{}); !got.IsZero() {
		t.Errorf("expected zero for NULL numeric, got %s", got)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if OrderStatusPENDING.Terminal() || OrderStatusPREPARING.Terminal() {
		t.Error("pending/preparing must not be terminal")
	}
	if !OrderStatusCOMPLETED.Terminal() || !OrderStatusCANCELLED.Terminal() {
		t.Error("completed/cancelled must be terminal")
	}
	if OrderStatus("ready").Valid() {
		t.Error("unknown status must be invalid")
	}
}
