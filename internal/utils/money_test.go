package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRub(t *testing.T) {
	cases := map[string]string{
		"0":       "0",
		"300":     "300",
		"5000":    "5 000",
		"1234.5":  "1 234,50",
		"1000000": "1 000 000",
		"-1500":   "-1 500",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatRub(decimal.RequireFromString(in)), in)
	}
}

func TestGenerateQRCode(t *testing.T) {
	png, err := GenerateQRCode("https://yoomoney.ru/checkout/payments/v2/contract?orderId=1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	_, err = GenerateQRCode("")
	assert.Error(t, err)
}
