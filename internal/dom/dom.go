// Package dom rewrites i18n-tagged elements of parsed HTML documents.
//
// Elements opt in through marker attributes:
//
//	data-i18n              text, value or label depending on the element
//	data-i18n-title        title attribute
//	data-i18n-alt          alt attribute
//	data-i18n-placeholder  placeholder attribute
//
// Markers are kept in the output so the page can be translated again.
package dom

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Marker attributes.
const (
	AttrText        = "data-i18n"
	AttrTitle       = "data-i18n-title"
	AttrAlt         = "data-i18n-alt"
	AttrPlaceholder = "data-i18n-placeholder"
)

// Translator resolves a dotted key to display text.
type Translator interface {
	T(key string) string
}

// Parse builds a document from raw HTML.
func Parse(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return doc, nil
}

// Render serialises the document.
func Render(doc *goquery.Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("dom: render: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// SetDocumentLanguage sets the lang attribute of <html>.
func SetDocumentLanguage(doc *goquery.Document, code string) {
	doc.Find("html").SetAttr("lang", code)
}

// UpdateLanguageSelector reflects the active language in the selector
// control (#languageSelector) and the current-language label.
func UpdateLanguageSelector(root *goquery.Selection, code, name string) {
	selector := findWithSelf(root, "#languageSelector").First()
	if selector.Length() > 0 {
		if goquery.NodeName(selector) == "select" {
			selector.Find("option").Each(func(_ int, opt *goquery.Selection) {
				v, ok := opt.Attr("value")
				if !ok {
					v = opt.Text()
				}
				if v == code {
					opt.SetAttr("selected", "selected")
				} else {
					opt.RemoveAttr("selected")
				}
			})
		} else {
			selector.SetAttr("value", code)
		}
	}
	findWithSelf(root, ".current-language").First().SetText(name)
}

// findWithSelf is Find that also considers the root elements themselves.
func findWithSelf(root *goquery.Selection, selector string) *goquery.Selection {
	return root.Filter(selector).AddSelection(root.Find(selector))
}
