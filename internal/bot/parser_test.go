package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	p := NewCommandParser("!")

	tests := []struct {
		text string
		want Command
		ok   bool
	}{
		{text: "!balance", want: Command{Name: "balance"}, ok: true},
		{text: "  !BUY vip 2 ", want: Command{Name: "buy", Args: []string{"vip", "2"}, Body: "vip 2"}, ok: true},
		{
			text: "!addstock VIP\ncode-1\ncode-2",
			want: Command{Name: "addstock", Args: []string{"VIP", "code-1", "code-2"}, Body: "VIP\ncode-1\ncode-2"},
			ok:   true,
		},
		{text: "! balance", ok: false},
		{text: "!", ok: false},
		{text: "balance", ok: false},
		{text: ".balance", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := p.ParseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseCommandCustomPrefixes(t *testing.T) {
	p := NewCommandParser("$", "shop.")
	cmd, ok := p.ParseCommand("shop.stock VIP")
	assert.True(t, ok)
	assert.Equal(t, "stock", cmd.Name)
	assert.Equal(t, []string{"VIP"}, cmd.Args)

	_, ok = p.ParseCommand("!stock")
	assert.False(t, ok)
}
