package feed

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskexec/market"
)

func TestParseRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     []string
		wantOk  bool
		wantErr bool
		check   func(t *testing.T, ev Event)
	}{
		{
			name:   "quote",
			row:    []string{"2024-03-01T14:30:00Z", "quote", "AAPL", "149.98", "150.00"},
			wantOk: true,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, KindQuote, ev.Kind)
				assert.Equal(t, "AAPL", ev.Quote.Symbol)
				assert.True(t, ev.Quote.Ask.Equal(decimal.RequireFromString("150")))
			},
		},
		{
			name:   "open with target and strategy",
			row:    []string{" 2024-03-01T14:30:00.5Z ", "OPEN", "AAPL", "buy", "150", "148.5", "155", "breakout"},
			wantOk: true,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, KindOpen, ev.Kind)
				assert.Equal(t, market.Buy, ev.Open.Side)
				assert.True(t, ev.Open.StopLossPrice.Equal(decimal.RequireFromString("148.5")))
				assert.True(t, ev.Open.TargetPrice.Equal(decimal.RequireFromString("155")))
				assert.Equal(t, "breakout", ev.Open.Strategy)
			},
		},
		{
			name:   "open without target",
			row:    []string{"2024-03-01T14:30:00Z", "open", "MSFT", "sell", "400", "404"},
			wantOk: true,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, market.Sell, ev.Open.Side)
				assert.True(t, ev.Open.TargetPrice.IsZero())
			},
		},
		{
			name:   "close defaults reason",
			row:    []string{"2024-03-01T15:00:00Z", "close", "AAPL"},
			wantOk: true,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "signal", ev.Reason)
			},
		},
		{name: "short quote skipped", row: []string{"2024-03-01T14:30:00Z", "quote", "AAPL", "149.98"}},
		{name: "empty timestamp skipped", row: []string{"", "quote", "AAPL", "1", "2"}},
		{name: "bad time", row: []string{"yesterday", "quote", "AAPL", "1", "2"}, wantErr: true},
		{name: "bad bid", row: []string{"2024-03-01T14:30:00Z", "quote", "AAPL", "x", "2"}, wantErr: true},
		{name: "bad side", row: []string{"2024-03-01T14:30:00Z", "open", "AAPL", "hold", "1", "2"}, wantErr: true},
		{name: "unknown kind", row: []string{"2024-03-01T14:30:00Z", "cancel", "AAPL"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok, err := parseRow(tt.row)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOk, ok)
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestReaderSkipsHeaderAndComments(t *testing.T) {
	t.Parallel()
	in := strings.Join([]string{
		"time,kind,symbol,a,b,c,d,e",
		"# warm up",
		"2024-03-01T14:30:00Z,quote,AAPL,149.98,150.00",
		"",
		"2024-03-01T14:30:01Z,open,AAPL,buy,150,148.5,155",
		"2024-03-01T15:00:00Z,close,AAPL,eod",
	}, "\n")

	r := NewReader(strings.NewReader(in))
	var kinds []Kind
	for {
		ev, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{KindQuote, KindOpen, KindClose}, kinds)
}

func TestReaderReportsLine(t *testing.T) {
	t.Parallel()
	r := NewReader(strings.NewReader("2024-03-01T14:30:00Z,quote,AAPL,1,2\n2024-03-01T14:30:00Z,quote,AAPL,x,2\n"))
	_, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = r.Next()
	assert.ErrorContains(t, err, "feed line 2")
}
