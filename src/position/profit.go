package position

import "github.com/shopspring/decimal"

// profitPlaces is the fixed precision of recorded percentages.
const profitPlaces = 8

var hundred = decimal.NewFromInt(100)

// ProfitPct returns (exit-entry)/entry*100 - feePct.
func ProfitPct(entryPrice, exitPrice, feePct decimal.Decimal) decimal.Decimal {
	if !entryPrice.IsPositive() {
		return decimal.Zero
	}
	gross := exitPrice.Sub(entryPrice).Div(entryPrice).Mul(hundred)
	return gross.Sub(feePct).Round(profitPlaces)
}

// FeePct expresses the fees paid over a round trip, valued in the quote
// asset, as a percentage of the entry notional.
func FeePct(feesQuote, entryPrice, qty decimal.Decimal) decimal.Decimal {
	notional := entryPrice.Mul(qty)
	if !notional.IsPositive() {
		return decimal.Zero
	}
	return feesQuote.Div(notional).Mul(hundred).Round(profitPlaces)
}

// feeInQuote values a commission reported on a fill in the quote asset.
// Commissions in a third asset use feeAssetPrice, which may be zero.
func feeInQuote(fee decimal.Decimal, feeAsset string, price decimal.Decimal, base, quote string, feeAssetPrice decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case fee.IsZero():
		return decimal.Zero, true
	case feeAsset == quote:
		return fee, true
	case feeAsset == base:
		return fee.Mul(price), true
	case feeAssetPrice.IsPositive():
		return fee.Mul(feeAssetPrice), true
	default:
		return decimal.Zero, false
	}
}

// vwap is quoteQty/qty, or zero when nothing was filled.
func vwap(quoteQty, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return quoteQty.Div(qty).Round(profitPlaces)
}
