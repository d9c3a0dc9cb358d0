package lots

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseSymbolStripsContractSuffix(t *testing.T) {
	t.Parallel()

	tbl := NewTable()

	assert.Equal(t, "NIFTY", tbl.BaseSymbol("NIFTY23DEC25C24000"))
	assert.Equal(t, "BANKNIFTY", tbl.BaseSymbol("BANKNIFTY51000PE"))
	assert.Equal(t, "RELIANCE", tbl.BaseSymbol("reliance24jan2800ce"))
	assert.Equal(t, "UNKNOWN99", tbl.BaseSymbol("UNKNOWN99"))
}

func TestBaseSymbolPrefersLongestPrefix(t *testing.T) {
	t.Parallel()

	// BANKNIFTY must win over NIFTY even though both prefix-match.
	tbl := NewTable()
	assert.Equal(t, "BANKNIFTY", tbl.BaseSymbol("BANKNIFTY24000CE"))
	assert.Equal(t, 15, tbl.LotSize("BANKNIFTY24000CE"))
}

func TestLotSizeFallsBackToDefault(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	assert.Equal(t, 25, tbl.LotSize("NIFTY24000CE"))
	assert.Equal(t, DefaultLotSize, tbl.LotSize("OBSCURESCRIP123"))
}

func TestValidateQuantity(t *testing.T) {
	t.Parallel()

	tbl := NewTable()

	ok, reason := tbl.ValidateQuantity("NIFTY24000CE", 50)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = tbl.ValidateQuantity("NIFTY24000CE", 30)
	assert.False(t, ok)
	assert.Contains(t, reason, "not a multiple of lot size 25")

	ok, reason = tbl.ValidateQuantity("NIFTY24000CE", 0)
	assert.False(t, ok)
	assert.Equal(t, "quantity must be positive", reason)

	ok, _ = tbl.ValidateQuantity("NIFTY24000CE", -25)
	assert.False(t, ok)
}

func TestLotsAndRoundDown(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	assert.Equal(t, 3, tbl.Lots("NIFTY24000CE", 75))
	assert.Equal(t, 75, tbl.RoundDown("NIFTY24000CE", 80))
	assert.Equal(t, 0, tbl.RoundDown("NIFTY24000CE", 20))
}

func TestUpdateOverridesLotSize(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Update("NIFTY", 75)
	assert.Equal(t, 75, tbl.LotSize("NIFTY24000CE"))

	// Non-positive updates are ignored.
	tbl.Update("NIFTY", 0)
	assert.Equal(t, 75, tbl.LotSize("NIFTY24000CE"))

	tbl.BulkUpdate(map[string]int{"NEWSCRIP": 40, "BAD": -1})
	assert.Equal(t, 40, tbl.LotSize("NEWSCRIP24JAN100CE"))
	assert.Equal(t, DefaultLotSize, tbl.LotSize("BAD100CE"))
}
