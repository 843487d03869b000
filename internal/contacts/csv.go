package contacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wablast/wablast/internal/phone"
)

// ReadCSV parses a contact table. The header row must contain a phone
// column; name, address, last_purchase and total_spent are optional.
// Rows without a usable phone are dropped and counted as skipped.
func ReadCSV(r io.Reader) ([]Recipient, *ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["phone"]; !ok {
		return nil, nil, fmt.Errorf("missing required column: phone")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	result := &ImportResult{}
	var recipients []Recipient

	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		result.Total++

		num, err := phone.Normalize(field(row, "phone"))
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		rec := Recipient{
			Name:    field(row, "name"),
			Phone:   num.E164(),
			Address: field(row, "address"),
		}

		if s := field(row, "last_purchase"); s != "" {
			t, err := time.Parse(DateLayout, s)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: bad last_purchase %q", line, s))
			} else {
				rec.LastPurchase = &t
			}
		}

		if s := field(row, "total_spent"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: bad total_spent %q", line, s))
			} else {
				rec.TotalSpent = &v
			}
		}

		recipients = append(recipients, rec)
		result.Imported++
	}

	return recipients, result, nil
}

// WriteCSV writes a contact table with the canonical column set.
func WriteCSV(w io.Writer, recipients []Recipient) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"name", "phone", "address", "last_purchase", "total_spent"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, rec := range recipients {
		var purchase, spent string
		if rec.LastPurchase != nil {
			purchase = rec.LastPurchase.Format(DateLayout)
		}
		if rec.TotalSpent != nil {
			spent = strconv.FormatFloat(*rec.TotalSpent, 'f', -1, 64)
		}
		if err := writer.Write([]string{rec.Name, rec.Phone, rec.Address, purchase, spent}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
