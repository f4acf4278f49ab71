package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Money
	}{
		{"0", 0},
		{"12", 1200},
		{"12.5", 1250},
		{"12.05", 1205},
		{".75", 75},
		{"-3.05", -305},
		{"+7.10", 710},
		{" 500 ", 50000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "1.-2", ".", "--1", "1e3"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseRange(t *testing.T) {
	for _, in := range []string{"184467440737095517", "92233720368547758.08", "-92233720368547758.08", "92233720368547759"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}

	top, err := Parse("92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, FromMinor(math.MaxInt64), top)
	bottom, err := Parse("-92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, FromMinor(-math.MaxInt64), bottom)
}

func TestString(t *testing.T) {
	assert.Equal(t, "49.00", FromMinor(4900).String())
	assert.Equal(t, "0.05", FromMinor(5).String())
	assert.Equal(t, "-3.05", FromMinor(-305).String())
	assert.Equal(t, "500.00", FromMajor(500).String())
	assert.Equal(t, "92233720368547758.07", FromMinor(math.MaxInt64).String())
	assert.Equal(t, "-92233720368547758.08", FromMinor(math.MinInt64).String())
}

func TestMinMaxSum(t *testing.T) {
	assert.Equal(t, FromMajor(2), Min(FromMajor(2), FromMajor(3)))
	assert.Equal(t, FromMajor(3), Max(FromMajor(2), FromMajor(3)))
	assert.Equal(t, FromMinor(350), Sum(FromMinor(200), FromMinor(150)))
	assert.Equal(t, Zero, Sum())
}

func TestJSON(t *testing.T) {
	type payload struct {
		Amount Money `json:"amount"`
	}

	out, err := json.Marshal(payload{Amount: FromMinor(1250)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"12.50"}`, string(out))

	var fromString payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"99.99"}`), &fromString))
	assert.Equal(t, FromMinor(9999), fromString.Amount)

	var fromNumber payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":200}`), &fromNumber))
	assert.Equal(t, FromMajor(200), fromNumber.Amount)

	var bad payload
	assert.Error(t, json.Unmarshal([]byte(`{"amount":"1.999"}`), &bad))
}
