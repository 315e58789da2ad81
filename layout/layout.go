// Package layout reads the structure of a page (image offsets, sections and
// carousel slides) from its HTML.
//
// The page marks up what the engine needs with data attributes:
//
//	<meta name="viewport-height" content="900">
//	<img src="/img/pool.jpg" data-top="2400">
//	<section id="drinks" data-next-page="/drinks">
//	<div data-carousel><div data-slide class="active"><img src="/a.jpg"></div></div>
package layout

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"smart-prefetch/utils"
)

type Element struct {
	URL string
	Top float64
}

type Page struct {
	URL       string
	Title     string
	Viewport  float64
	Elements  []Element
	NextPages map[string]string
	Slideshow *Slideshow
}

func (p *Page) ViewportHeight() float64 { return p.Viewport }

func (p *Page) Images() []Element { return p.Elements }

// Parse builds a Page from an HTML document. Relative URLs are resolved
// against pageURL. defaultViewport is used when the page has no
// viewport-height meta tag.
func Parse(r io.Reader, pageURL string, defaultViewport float64) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &Page{
		URL:       pageURL,
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		Viewport:  defaultViewport,
		NextPages: make(map[string]string),
	}

	if content, ok := doc.Find("meta[name='viewport-height']").Attr("content"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(content), 64); err == nil && v > 0 {
			page.Viewport = v
		}
	}

	doc.Find("img[data-top]").Each(func(i int, sel *goquery.Selection) {
		src := imageSource(sel)
		if src == "" {
			return
		}
		top, err := strconv.ParseFloat(strings.TrimSpace(sel.AttrOr("data-top", "")), 64)
		if err != nil {
			return
		}
		page.Elements = append(page.Elements, Element{
			URL: utils.MakeAbsoluteURL(pageURL, src),
			Top: top,
		})
	})

	doc.Find("[id][data-next-page]").Each(func(i int, sel *goquery.Selection) {
		id := sel.AttrOr("id", "")
		next := utils.MakeAbsoluteURL(pageURL, sel.AttrOr("data-next-page", ""))
		if id == "" || next == "" {
			return
		}
		page.NextPages[id] = next
	})

	carousel := doc.Find("[data-carousel]").First()
	if carousel.Length() > 0 {
		page.Slideshow = parseSlideshow(carousel, pageURL)
	}

	return page, nil
}

func parseSlideshow(carousel *goquery.Selection, pageURL string) *Slideshow {
	var slides [][]string
	current := 0

	carousel.Find("[data-slide]").Each(func(i int, slide *goquery.Selection) {
		var urls []string
		slide.Find("img").Each(func(_ int, img *goquery.Selection) {
			if src := imageSource(img); src != "" {
				urls = append(urls, utils.MakeAbsoluteURL(pageURL, src))
			}
		})
		if bg, ok := slide.Attr("data-background"); ok && bg != "" {
			urls = append(urls, utils.MakeAbsoluteURL(pageURL, bg))
		}
		if slide.HasClass("active") {
			current = i
		}
		slides = append(slides, urls)
	})

	autoplay := carousel.AttrOr("data-autoplay", "") != "false"
	return NewSlideshow(slides, current, autoplay)
}

// imageSource prefers lazy-loading attributes over src.
func imageSource(sel *goquery.Selection) string {
	for _, attr := range []string{"data-src", "src"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Load reads a page from a local file or an http(s) URL.
func Load(source, userAgent string, timeout time.Duration, defaultViewport float64) (*Page, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		defer f.Close()
		return Parse(f, "", defaultViewport)
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest("GET", source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch page, status code: %d", resp.StatusCode)
	}
	return Parse(resp.Body, source, defaultViewport)
}
