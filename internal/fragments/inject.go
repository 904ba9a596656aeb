package fragments

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"finitefield.org/chapel-web/internal/dom"
	"finitefield.org/chapel-web/internal/origin"
)

// Container selectors the fragments are spliced into.
const (
	HeaderContainer = "#header-container"
	FooterContainer = "#footer-container"
)

const navMenuID = "nav-menu"

// InjectOptions describes the page receiving the fragments.
type InjectOptions struct {
	PagePath   string
	Translator dom.Translator
	Lang       string
	LangName   string
}

// Inject splices the fragment set into doc and returns how many fragments
// were placed. Missing containers and absent fragments are skipped.
func Inject(doc *goquery.Document, set Set, opts InjectOptions) int {
	prefix := origin.RootPrefix(opts.PagePath)
	placed := 0

	if header := place(doc, HeaderContainer, set.Header, prefix); header != nil {
		placed++
		finish(header, opts)
		if opts.LangName != "" {
			dom.UpdateLanguageSelector(header, opts.Lang, opts.LangName)
		}
		wireMenu(header)
	}
	if footer := place(doc, FooterContainer, set.Footer, prefix); footer != nil {
		placed++
		finish(footer, opts)
	}
	return placed
}

func place(doc *goquery.Document, selector string, fragment []byte, prefix string) *goquery.Selection {
	if fragment == nil {
		return nil
	}
	container := doc.Find(selector).First()
	if container.Length() == 0 {
		return nil
	}
	container.SetHtml(string(fragment))
	if prefix != "" {
		rebase(container, prefix)
	}
	return container
}

func finish(container *goquery.Selection, opts InjectOptions) {
	if opts.Translator != nil {
		dom.Update(container, opts.Translator)
	}
}

// rebase points in-page anchors and relative images of a nested page back
// at the site root.
func rebase(container *goquery.Selection, prefix string) {
	container.Find(`a[href^="#"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		a.SetAttr("href", prefix+href)
	})
	container.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if isRelative(src) {
			img.SetAttr("src", prefix+src)
		}
	})
}

func isRelative(src string) bool {
	switch {
	case src == "":
		return false
	case strings.HasPrefix(src, "http"),
		strings.HasPrefix(src, "../"),
		strings.HasPrefix(src, "/"),
		strings.HasPrefix(src, "data:"):
		return false
	}
	return true
}

// wireMenu adds the accessibility attributes of the hamburger toggle.
func wireMenu(header *goquery.Selection) {
	toggle := header.Find(".hamburger").First()
	menu := header.Find(".nav-menu").First()
	if toggle.Length() == 0 || menu.Length() == 0 {
		return
	}
	id, ok := menu.Attr("id")
	if !ok || strings.TrimSpace(id) == "" {
		id = navMenuID
		menu.SetAttr("id", id)
	}
	toggle.SetAttr("aria-label", "Toggle navigation menu")
	toggle.SetAttr("aria-expanded", "false")
	toggle.SetAttr("aria-controls", id)
	menu.SetAttr("aria-label", "Main navigation")
}

// String reports which fragments are present, for logs.
func (s Set) String() string {
	return fmt.Sprintf("header=%t footer=%t", s.Header != nil, s.Footer != nil)
}
