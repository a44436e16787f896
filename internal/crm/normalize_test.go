package crm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"acme.com", "https://acme.com/"},
		{"acme.com/", "https://acme.com/"},
		{"HTTP://Acme.COM/About/", "https://acme.com/About"},
		{"https://acme.com/pricing//", "https://acme.com/pricing/"},
		{"https://acme.com/?utm_source=x&utm_medium=y&utm_campaign=z&utm_term=a&utm_content=b", "https://acme.com/"},
		{"https://acme.com/page?fbclid=1&gclid=2&ref=nav", "https://acme.com/page?ref=nav"},
		{"https://acme.com/search?z=1&utm_source=x&a=2&b", "https://acme.com/search?z=1&a=2&b"},
		{"https://acme.com/search?q=a+b&utm%5Fmedium=x", "https://acme.com/search?q=a+b"},
		{"https://acme.com/docs/?b=2&a=1", "https://acme.com/docs/?b=2&a=1"},
		{"https://acme.com/#team", "https://acme.com/#team"},
		{"https://www.linkedin.com/in/jane-doe/", "https://www.linkedin.com/in/jane-doe"},
		{"https://", ""},
		{"not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestTitle(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.Equal(t, "Jane Doe", Title(Lead{Name: "  Jane Doe ", Company: "Acme"}, at))
	assert.Equal(t, "Acme", Title(Lead{Company: "Acme"}, at))
	assert.Equal(t, "Website lead - 2026-03-04 05:06", Title(Lead{}, at))

	long := make([]rune, MaxTextLength+10)
	for i := range long {
		long[i] = 'é'
	}
	assert.Len(t, []rune(Title(Lead{Name: string(long)}, at)), MaxTextLength)
}
