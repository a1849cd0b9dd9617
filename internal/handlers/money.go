package handlers

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.MustParse("en-IN"))

// moneyPayload renders an amount in minor units alongside display text.
type moneyPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func newMoney(amount int64, code string) moneyPayload {
	return moneyPayload{Amount: amount, Currency: normaliseCurrency(code), Display: formatMoney(amount, code)}
}

// formatMoney renders minor units with the currency symbol, e.g. ₹1,500.00.
func formatMoney(amount int64, code string) string {
	unit, err := currency.ParseISO(normaliseCurrency(code))
	if err != nil {
		unit = currency.INR
	}
	return moneyPrinter.Sprint(currency.NarrowSymbol(unit.Amount(float64(amount) / 100)))
}

func normaliseCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "INR"
	}
	return code
}

// refundMessage describes where an amount was credited.
func refundMessage(amount int64, code string) string {
	if amount <= 0 {
		return ""
	}
	return moneyPrinter.Sprintf("%s refunded to your wallet", formatMoney(amount, code))
}
