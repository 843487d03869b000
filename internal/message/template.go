// Package message personalizes broadcast templates per recipient.
package message

import (
	"strings"

	"github.com/wablast/wablast/internal/contacts"
)

// DefaultName is substituted when a recipient has no name.
const DefaultName = "Customer"

// nameToken is the only placeholder the template language knows.
const nameToken = "{name}"

// Render substitutes every occurrence of {name} in the template with
// the recipient's name, falling back to DefaultName. All other text,
// including unmatched braces, is left verbatim.
func Render(template string, rec contacts.Recipient) string {
	name := rec.Name
	if name == "" {
		name = DefaultName
	}
	return strings.ReplaceAll(template, nameToken, name)
}
