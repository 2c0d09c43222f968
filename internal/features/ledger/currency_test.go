package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/common"
)

func TestParseCurrency(t *testing.T) {
	for in, want := range map[string]Currency{
		"wl": WL, "DL": DL, " bgl ": BGL, "World Lock": WL, "Diamond Lock": DL, "Blue Gem Lock": BGL,
	} {
		got, err := ParseCurrency(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseCurrency("gems")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestConversion(t *testing.T) {
	assert.Equal(t, int64(500), ToBase(5, DL))
	assert.Equal(t, Delta{BGL: 2}, BGL.Delta(2))
	assert.Equal(t, "2.5", Convert(250, DL).String())
	assert.Equal(t, "2.5 DL", FormatIn(250, DL))
	assert.Equal(t, "99 WL", FormatPrice(99))
	assert.Equal(t, "250 WL (2.5 DL)", FormatPrice(250))
	assert.Equal(t, "15000 WL (1.5 BGL)", FormatPrice(15_000))
}
