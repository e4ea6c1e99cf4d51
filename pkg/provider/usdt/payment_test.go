package usdt

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsdtAmountWei_ConvertsAtParRate(t *testing.T) {
	usdtAmount, wei, err := usdtAmountWei(10.0, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, usdtAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, big.NewInt(10_000_000), wei)
}

func TestUsdtAmountWei_ConvertsFractionalAmountAtNonTrivialRate(t *testing.T) {
	rate := decimal.NewFromFloat(0.5)
	usdtAmount, wei, err := usdtAmountWei(5.0, rate)
	require.NoError(t, err)
	assert.True(t, usdtAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, big.NewInt(10_000_000), wei)
}

func TestUsdtAmountWei_SmallestUnitRoundTrips(t *testing.T) {
	_, wei, err := usdtAmountWei(0.000001, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), wei)
}

func TestUsdtAmountWei_RejectsNonPositiveResult(t *testing.T) {
	_, _, err := usdtAmountWei(0, decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestUsdtAmountWei_RejectsZeroRate(t *testing.T) {
	_, _, err := usdtAmountWei(10, decimal.Zero)
	assert.Error(t, err)
}
