package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/common"
)

func TestNewClampsNegatives(t *testing.T) {
	b := New(-5, 3, -1)
	assert.Equal(t, Balance{WL: 0, DL: 3, BGL: 0}, b)
}

func TestTotalAndValidate(t *testing.T) {
	assert.Equal(t, int64(10_520), New(20, 5, 1).Total())
	assert.True(t, New(0, 0, 0).Validate())
	assert.True(t, New(0, 0, 100).Validate())
	assert.False(t, New(1, 0, 100).Validate())
}

func TestFromTotalRoundTripsOnTotal(t *testing.T) {
	for _, b := range []Balance{
		{}, {WL: 150}, {WL: 250, DL: 3}, {WL: 99, DL: 99, BGL: 99}, {BGL: 100}, {WL: 12_345},
	} {
		assert.Equal(t, b.Total(), FromTotal(b.Total()).Total(), "balance %+v", b)
	}
	assert.Equal(t, Balance{WL: 45, DL: 23, BGL: 1}, FromTotal(12_345))
	assert.Equal(t, Balance{}, FromTotal(-10))
}

func TestEqualComparesTotals(t *testing.T) {
	// компоненты разные, сумма одна - балансы равны
	assert.True(t, New(100, 0, 0).Equal(New(0, 1, 0)))
	assert.False(t, New(100, 0, 0).Equal(New(0, 0, 1)))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 WL", Balance{}.Format())
	assert.Equal(t, "150 WL", New(150, 0, 0).Format())
	assert.Equal(t, "1 BGL, 20 WL", New(20, 0, 1).Format())
	assert.Equal(t, "2 BGL, 5 DL, 1,500 WL", New(1500, 5, 2).Format())
}

func TestJSONEncoding(t *testing.T) {
	data, err := json.Marshal(New(1, 2, 3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"wl":1,"dl":2,"bgl":3}`, string(data))

	var b Balance
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, New(1, 2, 3), b)

	assert.Error(t, json.Unmarshal([]byte(`{"v":9,"wl":1}`), &b))
}

func TestApply(t *testing.T) {
	cur := New(150, 2, 0)

	next, err := Apply(cur, Delta{WL: -50, DL: 1})
	require.NoError(t, err)
	assert.Equal(t, New(100, 3, 0), next)

	// перерасход по WL не прячется за обнулением, хотя в DL денег хватает
	_, err = Apply(cur, Delta{WL: -200})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = Apply(cur, Delta{BGL: -1})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = Apply(cur, Delta{BGL: 100})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestDebitMakesChange(t *testing.T) {
	cases := []struct {
		name   string
		cur    Balance
		amount int64
		want   Balance
	}{
		{"только WL", New(500, 0, 0), 200, New(300, 0, 0)},
		{"сдача из DL", New(50, 3, 0), 120, New(30, 2, 0)},
		{"сдача из BGL", New(50, 0, 1), 200, New(50, 98, 0)},
		{"ровно всё", New(10, 10, 1), 11_010, New(0, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Debit(tc.cur, tc.amount)
			require.NoError(t, err)
			assert.Equal(t, -tc.amount, d.Total())

			next, err := Apply(tc.cur, d)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
		})
	}
}

func TestDebitRejects(t *testing.T) {
	_, err := Debit(New(100, 0, 0), 101)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = Debit(New(100, 0, 0), 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}
