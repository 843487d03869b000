// Package contacts holds the recipient collection: CSV import/export,
// the built-in sample data and selection (filtering) over a loaded list.
package contacts

import (
	"time"
)

// Recipient represents a single contact loaded from a data source.
// Phone is the only mandatory field; the rest depend on the source.
type Recipient struct {
	Name         string     `json:"name,omitempty"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address,omitempty"`
	LastPurchase *time.Time `json:"last_purchase,omitempty"`
	TotalSpent   *float64   `json:"total_spent,omitempty"`
}

// Ref returns a human-readable identifier for result reporting.
func (r Recipient) Ref() string {
	if r.Name != "" {
		return r.Name + " (" + r.Phone + ")"
	}
	return r.Phone
}

// ImportResult holds the outcome of a CSV import.
type ImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// DateLayout is the expected layout of the last_purchase column.
const DateLayout = "2006-01-02"
