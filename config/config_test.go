package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	require.NotEmpty(t, GetDatadir())
	require.Equal(t, 0.003, GetFloat(TakerFeeKey))
	require.Equal(t, 30*time.Second, GetDuration(SignOfferTimeoutKey))
	require.Equal(t, time.Minute, GetDuration(TradeStepTimeoutKey))
	require.False(t, GetBool(ArbitratorModeKey))
}

func TestSetOverridesDefault(t *testing.T) {
	Set(TakerFeeKey, 0.01)
	defer Set(TakerFeeKey, 0.003)
	require.Equal(t, 0.01, GetFloat(TakerFeeKey))
}
