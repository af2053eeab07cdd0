package services

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRequest_UPILink(t *testing.T) {
	p := PaymentRequest{
		UPIID:     "store@upi",
		PayeeName: "SMM Store",
		Currency:  "INR",
		Amount:    decimal.NewFromInt(350),
		Ref:       "a1b2c3",
	}
	assert.Equal(t, "upi://pay?pa=store@upi&pn=SMM+Store&am=350.00&cu=INR&tn=Ordera1b2c3", p.UPILink())

	p.Amount = decimal.RequireFromString("863.8")
	assert.Contains(t, p.UPILink(), "&am=863.80&")
}

func TestPaymentRequest_UPILinkEscapesEveryTextParam(t *testing.T) {
	p := PaymentRequest{
		UPIID:     "shop&co@upi",
		PayeeName: "A&B Store",
		Currency:  "INR",
		Amount:    decimal.NewFromInt(70),
		Ref:       "x=1",
	}
	assert.Equal(t, "upi://pay?pa=shop%26co@upi&pn=A%26B+Store&am=70.00&cu=INR&tn=Orderx%3D1", p.UPILink())
}

func TestPaymentRequest_QRCode(t *testing.T) {
	p := PaymentRequest{UPIID: "store@upi", PayeeName: "Store", Currency: "INR", Amount: decimal.NewFromInt(70), Ref: "x"}
	png, err := p.QRCode()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}
