package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-engine/internal/money"
)

func TestAddIsExactForDecimalInputs(t *testing.T) {
	sum := money.FromFloat(0.1).Add(money.FromFloat(0.2))
	require.True(t, sum.Equal(money.MustFromString("0.3")), "got %s", sum)
}

func TestPercent(t *testing.T) {
	base := money.FromInt(200)
	require.Equal(t, "17", base.Percent(money.MustFromString("8.5")).String())
}

func TestClampZero(t *testing.T) {
	neg := money.FromInt(5).Sub(money.FromInt(9))
	require.True(t, neg.IsNegative())
	require.True(t, neg.ClampZero().IsZero())
	require.Equal(t, "4", money.FromInt(4).ClampZero().String())
}

func TestFromStringRejectsGarbage(t *testing.T) {
	_, err := money.FromString("ten dollars")
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	out, err := json.Marshal(money.MustFromString("12.75"))
	require.NoError(t, err)
	require.Equal(t, "12.75", string(out))

	var back money.Amount
	require.NoError(t, json.Unmarshal(out, &back))
	require.True(t, back.Equal(money.MustFromString("12.75")))

	require.NoError(t, json.Unmarshal([]byte(`"3.10"`), &back))
	require.True(t, back.Equal(money.MustFromString("3.1")))
}
