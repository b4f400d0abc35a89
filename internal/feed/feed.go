// Package feed reads the CSV event stream that drives `riskexec run`:
//
//	time,quote,SYMBOL,bid,ask
//	time,open,SYMBOL,side,entry,stop[,target[,strategy]]
//	time,close,SYMBOL[,reason]
//
// where time is RFC3339 or RFC3339Nano. A header row ("time,...") is
// allowed and empty or short rows are skipped.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/market"
	"github.com/rustyeddy/riskexec/order"
)

type Kind string

const (
	KindQuote Kind = "quote"
	KindOpen  Kind = "open"
	KindClose Kind = "close"
)

// Event is one row of the stream. Only the part matching Kind is set.
type Event struct {
	Time   time.Time
	Kind   Kind
	Quote  market.Tick
	Open   order.TradeRequest
	Symbol string
	Reason string
}

type Reader struct {
	r *csv.Reader

	sawFirst bool
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	return &Reader{r: cr}
}

// Next returns the next event, or ok false at the end of the stream.
func (f *Reader) Next() (Event, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return Event{}, false, nil
		}
		if err != nil {
			return Event{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		// Allow a single header row
		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		ev, ok, err := parseRow(row)
		if err != nil {
			line, _ := f.r.FieldPos(0)
			return Event{}, false, fmt.Errorf("feed line %d: %w", line, err)
		}
		if ok {
			return ev, true, nil
		}
	}
}

func parseRow(row []string) (Event, bool, error) {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	if len(row) < 3 || row[0] == "" || row[2] == "" {
		return Event{}, false, nil
	}

	t, err := parseTime(row[0])
	if err != nil {
		return Event{}, false, err
	}
	ev := Event{Time: t, Kind: Kind(strings.ToLower(row[1])), Symbol: row[2]}

	switch ev.Kind {
	case KindQuote:
		if len(row) < 5 {
			return Event{}, false, nil
		}
		bid, err := decimal.NewFromString(row[3])
		if err != nil {
			return Event{}, false, fmt.Errorf("bad bid %q: %w", row[3], err)
		}
		ask, err := decimal.NewFromString(row[4])
		if err != nil {
			return Event{}, false, fmt.Errorf("bad ask %q: %w", row[4], err)
		}
		ev.Quote = market.Tick{Symbol: ev.Symbol, Bid: bid, Ask: ask, Time: t}

	case KindOpen:
		if len(row) < 6 {
			return Event{}, false, nil
		}
		side, err := market.ParseSide(row[3])
		if err != nil {
			return Event{}, false, err
		}
		req := order.TradeRequest{Symbol: ev.Symbol, Side: side}
		if req.EntryPrice, err = decimal.NewFromString(row[4]); err != nil {
			return Event{}, false, fmt.Errorf("bad entry %q: %w", row[4], err)
		}
		if req.StopLossPrice, err = decimal.NewFromString(row[5]); err != nil {
			return Event{}, false, fmt.Errorf("bad stop %q: %w", row[5], err)
		}
		if len(row) > 6 && row[6] != "" {
			if req.TargetPrice, err = decimal.NewFromString(row[6]); err != nil {
				return Event{}, false, fmt.Errorf("bad target %q: %w", row[6], err)
			}
		}
		if len(row) > 7 {
			req.Strategy = row[7]
		}
		ev.Open = req

	case KindClose:
		ev.Reason = "signal"
		if len(row) > 3 && row[3] != "" {
			ev.Reason = row[3]
		}

	default:
		return Event{}, false, fmt.Errorf("unknown event kind %q", row[1])
	}
	return ev, true, nil
}

// Accept RFC3339 or RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t, nil
}
