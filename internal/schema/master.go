package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Master is the sorted union of every source header. It is fixed once
// discovery finishes and defines the target table's column order.
type Master struct {
	Columns []string
}

// Union merges normalized headers into a master schema. Input order does not
// matter: the result is sorted lexicographically and de-duplicated.
func Union(headers ...[]string) Master {
	seen := make(map[string]struct{})
	for _, h := range headers {
		for _, name := range h {
			seen[name] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return Master{Columns: cols}
}

// Len returns the number of master columns.
func (m Master) Len() int { return len(m.Columns) }

// Positions maps each column of a source header onto its master index.
// Columns absent from the master get -1 and are dropped by the reader.
func (m Master) Positions(header []string) []int {
	idx := make(map[string]int, len(m.Columns))
	for i, c := range m.Columns {
		idx[c] = i
	}
	out := make([]int, len(header))
	for i, h := range header {
		if p, ok := idx[h]; ok {
			out[i] = p
		} else {
			out[i] = -1
		}
	}
	return out
}

// NormalizeName cleans one raw header cell: a leading UTF-8 BOM and any
// embedded CR/LF are removed and surrounding whitespace is trimmed.
func NormalizeName(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	if strings.ContainsAny(s, "\r\n") {
		s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	}
	return strings.TrimSpace(s)
}

// NormalizeHeader cleans a raw header row. Empty names become
// "Unnamed: <position>" and repeated names get ".1", ".2", ... suffixes so
// every column of the file keeps a distinct name.
func NormalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	taken := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		name := NormalizeName(r)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		out[i] = name
	}
	// First occurrences keep their name even when a later suffix would collide.
	for _, n := range out {
		taken[n] = struct{}{}
	}
	firstSeen := make(map[string]bool, len(out))
	counters := make(map[string]int)
	for i, n := range out {
		if !firstSeen[n] {
			firstSeen[n] = true
			continue
		}
		for {
			counters[n]++
			cand := n + "." + strconv.Itoa(counters[n])
			if _, dup := taken[cand]; !dup {
				taken[cand] = struct{}{}
				out[i] = cand
				break
			}
		}
	}
	return out
}
