package engine

import (
	"fmt"
	"html"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
)

const blankHTML = "<html><head><title></title></head><body></body></html>"

var titlePolicy = bluemonday.StrictPolicy()

// Document is a parsed page the sandbox can query and mutate
type Document struct {
	URL  string
	base *url.URL
	doc  *goquery.Document
	size int64
}

func newDocument(rawURL string, r io.Reader, size int64) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Document{URL: rawURL, base: base, doc: doc, size: size}, nil
}

func blankDocument(rawURL string) *Document {
	d, err := newDocument(rawURL, strings.NewReader(blankHTML), int64(len(blankHTML)))
	if err != nil {
		// only reachable with an unparsable url
		d, _ = newDocument("about:blank", strings.NewReader(blankHTML), int64(len(blankHTML)))
	}
	return d
}

// textDocument wraps plain text the way a browser shows it
func textDocument(rawURL, text string) (*Document, error) {
	src := "<html><head><title></title></head><body><pre>" + html.EscapeString(text) + "</pre></body></html>"
	d, err := newDocument(rawURL, strings.NewReader(src), int64(len(text)))
	if err != nil {
		return nil, err
	}
	if name := path.Base(d.base.Path); name != "/" && name != "." {
		d.doc.Find("title").SetText(name)
	}
	return d, nil
}

// Title returns the page title with any markup stripped
func (d *Document) Title() string {
	raw := d.doc.Find("title").First().Text()
	title := html.UnescapeString(titlePolicy.Sanitize(raw))
	title = strings.Join(strings.Fields(title), " ")
	if title == "" && d.base != nil && (d.base.Scheme == "http" || d.base.Scheme == "https") {
		return d.base.Host
	}
	return title
}

// SetTitle rewrites the title element
func (d *Document) SetTitle(title string) {
	sel := d.doc.Find("title").First()
	if sel.Length() == 0 {
		d.doc.Find("head").AppendHtml("<title></title>")
		sel = d.doc.Find("title").First()
	}
	sel.SetText(title)
}

// Favicon returns the declared icon, or /favicon.ico for web pages
func (d *Document) Favicon() string {
	var icon string
	d.doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		for _, token := range strings.Fields(rel) {
			if token == "icon" {
				icon = d.Resolve(s.AttrOr("href", ""))
				return false
			}
		}
		return true
	})
	if icon != "" {
		return icon
	}
	if d.base != nil && (d.base.Scheme == "http" || d.base.Scheme == "https") {
		return d.Resolve("/favicon.ico")
	}
	return ""
}

// Resolve makes href absolute against the page URL
func (d *Document) Resolve(href string) string {
	if href == "" || d.base == nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return d.base.ResolveReference(ref).String()
}

// InlineScripts returns the bodies of scripts without a src
func (d *Document) InlineScripts() []string {
	var out []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		typ := strings.ToLower(s.AttrOr("type", ""))
		if typ != "" && typ != "text/javascript" && typ != "application/javascript" {
			return
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			out = append(out, body)
		}
	})
	return out
}

// Sanitize removes scripts and inline event handlers
func (d *Document) Sanitize() {
	d.doc.Find("script").Remove()
	d.doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		var handlers []string
		for _, node := range s.Nodes {
			for _, attr := range node.Attr {
				if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
					handlers = append(handlers, attr.Key)
				}
			}
		}
		for _, name := range handlers {
			s.RemoveAttr(name)
		}
	})
}

// skipFields are input types whose values never leave the page
var skipFields = map[string]bool{
	"password": true,
	"file":     true,
	"submit":   true,
	"button":   true,
	"reset":    true,
	"image":    true,
}

// Forms returns the named form values currently in the page
func (d *Document) Forms() []hibernation.FormField {
	var fields []hibernation.FormField

	d.doc.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		switch goquery.NodeName(s) {
		case "input":
			typ := strings.ToLower(s.AttrOr("type", "text"))
			if skipFields[typ] {
				return
			}
			if typ == "checkbox" || typ == "radio" {
				if _, checked := s.Attr("checked"); !checked {
					return
				}
				fields = append(fields, hibernation.FormField{Name: name, Value: s.AttrOr("value", "on")})
				return
			}
			fields = append(fields, hibernation.FormField{Name: name, Value: s.AttrOr("value", "")})
		case "textarea":
			fields = append(fields, hibernation.FormField{Name: name, Value: s.Text()})
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				fields = append(fields, hibernation.FormField{Name: name, Value: opt.AttrOr("value", opt.Text())})
			}
		}
	})
	return fields
}

// ApplyForms writes captured values back into matching fields
func (d *Document) ApplyForms(fields []hibernation.FormField) {
	for _, f := range fields {
		sel := d.doc.Find(fmt.Sprintf("[name=%q]", f.Name))
		sel.Each(func(_ int, s *goquery.Selection) {
			switch goquery.NodeName(s) {
			case "input":
				typ := strings.ToLower(s.AttrOr("type", "text"))
				if typ == "checkbox" || typ == "radio" {
					if s.AttrOr("value", "on") == f.Value {
						s.SetAttr("checked", "checked")
					}
					return
				}
				s.SetAttr("value", f.Value)
			case "textarea":
				s.SetText(f.Value)
			case "select":
				s.Find("option").Each(func(_ int, opt *goquery.Selection) {
					if opt.AttrOr("value", opt.Text()) == f.Value {
						opt.SetAttr("selected", "selected")
					} else {
						opt.RemoveAttr("selected")
					}
				})
			}
		})
	}
}

// Find runs a CSS selector; invalid selectors match nothing
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// HTML renders the current document
func (d *Document) HTML() ([]byte, error) {
	out, err := d.doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}
	return []byte(out), nil
}

// Size is the byte length of the source the document was parsed from
func (d *Document) Size() int64 {
	return d.size
}
