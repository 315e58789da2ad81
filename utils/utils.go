package utils

import (
	"net/url"
	"path"
	"strings"

	"smart-prefetch/models"
)

// IsValidURL accepts absolute http(s) URLs and site-relative paths.
func IsValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	lowerURL := strings.ToLower(rawURL)
	for _, pattern := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lowerURL, pattern) {
			return false
		}
	}

	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(u.Path, "/")
	}

	// Only allow HTTP and HTTPS
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	// Remove fragment
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)

	// Normalize path
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// MakeAbsoluteURL resolves href against baseURL. An empty base leaves href as is.
func MakeAbsoluteURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if baseURL == "" {
		return href
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	link, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return base.ResolveReference(link).String()
}

// GuessResourceType maps a URL to the hint type used to prefetch it.
func GuessResourceType(rawURL string) models.ResourceType {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico":
		return models.ResourceImage
	case ".css":
		return models.ResourceStyle
	case ".js", ".mjs":
		return models.ResourceScript
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return models.ResourceFont
	}

	return models.ResourceDocument
}
