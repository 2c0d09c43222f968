package main

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/features/economy"
)

func TestWriteReport(t *testing.T) {
	entries := []economy.Entry{
		{
			ID: 2, Account: "ALICE", Kind: economy.KindPurchase, Detail: "Покупка VIP, 1 шт.",
			OldBalance: "1 DL", NewBalance: "50 WL",
			CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID: 1, Account: "ALICE", Kind: economy.KindDeposit, Detail: "Пополнение",
			OldBalance: "0 WL", NewBalance: "1 DL", IdempotencyKey: "k1",
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, entries, time.UTC))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Kind", rows[0][2])
	assert.Equal(t, []string{"2", "ALICE", "purchase", "Покупка VIP, 1 шт.", "1 DL", "50 WL", "", "2026-03-01T10:00:00Z"}, rows[1])
	assert.Equal(t, "k1", rows[2][6])
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("a\r\nb\n\nc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "", "c"}, lines)
}
