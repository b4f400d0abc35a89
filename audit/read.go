package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

const maxLine = 1 << 20

// Decode reads NDJSON entries. Blank lines are skipped; a malformed line is
// an error naming its line number. A truncated final line, as left by a
// crash mid-write, is ignored.
func Decode(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var out []Entry
	var pending error
	line := 0
	for sc.Scan() {
		line++
		if pending != nil {
			return nil, pending
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			pending = fmt.Errorf("audit: line %d: %w", line, err)
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Tail returns the last n entries of the file.
func Tail(path string, n int) ([]Entry, error) {
	all, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// ByOrder groups order entries by order ID, each group sorted by Seq.
// Entries without an order ID are dropped.
func ByOrder(entries []Entry) map[string][]Entry {
	out := make(map[string][]Entry)
	for _, e := range entries {
		if e.OrderID == "" {
			continue
		}
		out[e.OrderID] = append(out[e.OrderID], e)
	}
	for _, es := range out {
		sort.SliceStable(es, func(i, j int) bool { return es[i].Seq < es[j].Seq })
	}
	return out
}
