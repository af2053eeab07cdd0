package services

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// PaymentRequest is a manual UPI payment the user is asked to make.
type PaymentRequest struct {
	UPIID     string
	PayeeName string
	Currency  string
	Amount    decimal.Decimal
	Ref       string
}

// UPILink builds the upi://pay deep link encoded in the QR code. Parameters
// stay in the order UPI apps expect.
func (p PaymentRequest) UPILink() string {
	return "upi://pay?pa=" + upiEscape(p.UPIID) +
		"&pn=" + upiEscape(p.PayeeName) +
		"&am=" + p.Amount.StringFixed(CurrencyScale) +
		"&cu=" + upiEscape(p.Currency) +
		"&tn=" + upiEscape("Order"+p.Ref)
}

// upiEscape query-escapes v but leaves '@' literal, as in a VPA.
func upiEscape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "%40", "@")
}

// QRCode renders the UPI link as a PNG.
func (p PaymentRequest) QRCode() ([]byte, error) {
	png, err := qrcode.Encode(p.UPILink(), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}
