package message

import (
	"testing"

	"github.com/wablast/wablast/internal/contacts"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		rec      contacts.Recipient
		want     string
	}{
		{
			name:     "substitutes name",
			template: "Hello {name}!",
			rec:      contacts.Recipient{Name: "Ann"},
			want:     "Hello Ann!",
		},
		{
			name:     "missing name falls back",
			template: "Hello {name}!",
			rec:      contacts.Recipient{Phone: "+123"},
			want:     "Hello Customer!",
		},
		{
			name:     "every occurrence replaced",
			template: "{name}, your order {name} is ready",
			rec:      contacts.Recipient{Name: "Bo"},
			want:     "Bo, your order Bo is ready",
		},
		{
			name:     "unmatched braces left verbatim",
			template: "Save {discount} today, {name}",
			rec:      contacts.Recipient{Name: "Ann"},
			want:     "Save {discount} today, Ann",
		},
		{
			name:     "no token",
			template: "Flash sale today only",
			rec:      contacts.Recipient{Name: "Ann"},
			want:     "Flash sale today only",
		},
		{
			name:     "empty template",
			template: "",
			rec:      contacts.Recipient{Name: "Ann"},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.template, tt.rec); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}
