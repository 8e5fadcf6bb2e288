// Package bracket turns a tournament category page into upcoming competitor
// rows and reconciles those rows into a single canonical table.
package bracket

import (
	"fmt"
	"strconv"
)

// Kind distinguishes a real entrant from a slot still waiting on the result
// of an earlier fight. Bye slots are dropped during extraction and have no
// kind.
type Kind int

const (
	KindNormal Kind = iota
	KindWinnerPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindWinnerPlaceholder:
		return "winner_placeholder"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*k = KindNormal
	case "winner_placeholder":
		*k = KindWinnerPlaceholder
	default:
		return fmt.Errorf("unknown competitor kind %q", b)
	}
	return nil
}

// Competitor is one slot of a match. For a placeholder, Name holds the
// "Winner of Fight N" text and Club and Number are empty.
type Competitor struct {
	Name   string `json:"name"`
	Club   string `json:"club"`
	Number string `json:"number,omitempty"`
	Kind   Kind   `json:"kind"`
}

// MatchRecord is one scheduled bout. Location and Time are empty when the
// page does not provide them. Competitors are in page order, red first.
type MatchRecord struct {
	Location    string       `json:"location,omitempty"`
	Time        string       `json:"time,omitempty"`
	Competitors []Competitor `json:"competitors"`
}

// CompetitorRow is the flattened, displayable unit kept in the canonical
// table. Empty Number, Location or Time means absent.
type CompetitorRow struct {
	Number   string `json:"number"`
	Name     string `json:"name"`
	Club     string `json:"club"`
	Location string `json:"mat"`
	Time     string `json:"time"`
}

// NumberValue returns the numeric competitor number, if it has one.
func (r CompetitorRow) NumberValue() (int, bool) {
	if r.Number == "" {
		return 0, false
	}
	n, err := strconv.Atoi(r.Number)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Table is the canonical table: one row per competitor name, sorted by
// competitor number with unnumbered rows last.
type Table []CompetitorRow

// Lookup returns the row stored for name.
func (t Table) Lookup(name string) (CompetitorRow, bool) {
	for _, r := range t {
		if r.Name == name {
			return r, true
		}
	}
	return CompetitorRow{}, false
}

// Clone returns a copy that does not share backing storage with t.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}
