package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smart-prefetch/models"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "fragment removed", in: "/menu#drinks", want: "/menu"},
		{name: "trailing slash trimmed", in: "/park/", want: "/park"},
		{name: "root kept", in: "https://Example.com", want: "https://example.com/"},
		{name: "query kept", in: "/shop?flavour=mango", want: "/shop?flavour=mango"},
		{name: "surrounding space", in: "  /a ", want: "/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/a", true},
		{"/relative/page", true},
		{"relative", false},
		{"", false},
		{"mailto:hi@example.com", false},
		{"javascript:void(0)", false},
		{"ftp://example.com/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidURL(tt.in))
		})
	}
}

func TestMakeAbsoluteURL(t *testing.T) {
	assert.Equal(t, "https://example.com/img/a.png", MakeAbsoluteURL("https://example.com/park/", "/img/a.png"))
	assert.Equal(t, "https://example.com/park/b.png", MakeAbsoluteURL("https://example.com/park/", "b.png"))
	assert.Equal(t, "/img/a.png", MakeAbsoluteURL("", "/img/a.png"))
	assert.Equal(t, "", MakeAbsoluteURL("https://example.com", "  "))
}

func TestGuessResourceType(t *testing.T) {
	tests := map[string]models.ResourceType{
		"/img/hero.JPG":                 models.ResourceImage,
		"https://cdn.example.com/a.css": models.ResourceStyle,
		"/static/app.js?v=3":            models.ResourceScript,
		"/fonts/brand.woff2":            models.ResourceFont,
		"/water-park":                   models.ResourceDocument,
		"/":                             models.ResourceDocument,
	}

	for in, want := range tests {
		assert.Equal(t, want, GuessResourceType(in), in)
	}
}
