package contacts

import (
	"strings"
	"time"
)

// Filter narrows a recipient list. Zero values mean "no constraint".
type Filter struct {
	AddressContains string     `json:"address_contains,omitempty"`
	MinSpent        *float64   `json:"min_spent,omitempty"`
	PurchasedAfter  *time.Time `json:"purchased_after,omitempty"`
	Limit           int        `json:"limit,omitempty"`
}

// Select applies the filter and returns the matching subsequence in
// original order. No matches yields an empty slice, never an error.
func Select(recipients []Recipient, f Filter) []Recipient {
	selected := make([]Recipient, 0, len(recipients))

	for _, rec := range recipients {
		if f.AddressContains != "" &&
			!strings.Contains(strings.ToLower(rec.Address), strings.ToLower(f.AddressContains)) {
			continue
		}
		if f.MinSpent != nil {
			if rec.TotalSpent == nil || *rec.TotalSpent < *f.MinSpent {
				continue
			}
		}
		if f.PurchasedAfter != nil {
			if rec.LastPurchase == nil || rec.LastPurchase.Before(*f.PurchasedAfter) {
				continue
			}
		}

		selected = append(selected, rec)
		if f.Limit > 0 && len(selected) >= f.Limit {
			break
		}
	}

	return selected
}

// Range selects the inclusive slice [start, end], clamped to valid
// bounds. An out-of-range end clamps to the last row; a start past the
// end of the list yields an empty selection.
func Range(recipients []Recipient, start, end int) []Recipient {
	if start < 0 {
		start = 0
	}
	if end >= len(recipients) {
		end = len(recipients) - 1
	}
	if start > end {
		return []Recipient{}
	}
	out := make([]Recipient, end-start+1)
	copy(out, recipients[start:end+1])
	return out
}
