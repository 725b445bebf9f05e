package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want Buy", Sell.Opposite())
	}
}

func TestTradeAggressorSide(t *testing.T) {
	t.Parallel()

	buyHit := Trade{IsBuyerMaker: true}
	if buyHit.AggressorSide() != Sell {
		t.Errorf("IsBuyerMaker=true: AggressorSide() = %v, want Sell", buyHit.AggressorSide())
	}

	sellHit := Trade{IsBuyerMaker: false}
	if sellHit.AggressorSide() != Buy {
		t.Errorf("IsBuyerMaker=false: AggressorSide() = %v, want Buy", sellHit.AggressorSide())
	}
}

func TestTradeQuoteVolume(t *testing.T) {
	t.Parallel()

	tr := Trade{
		Price:    decimal.NewFromFloat(100000),
		Quantity: decimal.NewFromFloat(0.5),
	}
	want := 50000.0
	if got := tr.QuoteVolume(); got != want {
		t.Errorf("QuoteVolume() = %v, want %v", got, want)
	}
}

func TestOptional(t *testing.T) {
	t.Parallel()

	some := Some(42)
	if !some.Valid || some.Value != 42 {
		t.Errorf("Some(42) = %+v, want {42 true}", some)
	}

	none := None[int]()
	if none.Valid {
		t.Errorf("None[int]() = %+v, want Valid=false", none)
	}
}
