package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Role is the update action chosen for a tagged element.
type Role int

const (
	// RoleText replaces the element's children with the translation.
	RoleText Role = iota
	// RoleValue sets the value attribute.
	RoleValue
	// RoleLabel keeps a leading <i> icon and replaces the rest of the label.
	RoleLabel
	// RoleTitle sets the title attribute.
	RoleTitle
	// RoleAlt sets the alt attribute.
	RoleAlt
	// RolePlaceholder sets the placeholder attribute.
	RolePlaceholder
)

func (r Role) String() string {
	switch r {
	case RoleText:
		return "text"
	case RoleValue:
		return "value"
	case RoleLabel:
		return "label"
	case RoleTitle:
		return "title"
	case RoleAlt:
		return "alt"
	case RolePlaceholder:
		return "placeholder"
	}
	return "unknown"
}

// Binding ties one element to a translation key and its update action.
type Binding struct {
	Key  string
	Role Role
	sel  *goquery.Selection
}

// Node returns the bound element.
func (b Binding) Node() *html.Node {
	if b.sel == nil || len(b.sel.Nodes) == 0 {
		return nil
	}
	return b.sel.Nodes[0]
}

var attrRoles = []struct {
	attr string
	role Role
}{
	{AttrTitle, RoleTitle},
	{AttrAlt, RoleAlt},
	{AttrPlaceholder, RolePlaceholder},
}

// Scan collects every binding under root (root included), in document order
// per marker kind.
func Scan(root *goquery.Selection) []Binding {
	var out []Binding
	findWithSelf(root, "["+AttrText+"]").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr(AttrText)
		role, ok := textRole(s)
		if !ok {
			return
		}
		out = append(out, Binding{Key: key, Role: role, sel: s})
	})
	for _, ar := range attrRoles {
		findWithSelf(root, "["+ar.attr+"]").Each(func(_ int, s *goquery.Selection) {
			key, _ := s.Attr(ar.attr)
			out = append(out, Binding{Key: key, Role: ar.role, sel: s})
		})
	}
	return out
}

// textRole picks the action for a data-i18n element. Text-like inputs that
// also carry a placeholder marker are skipped.
func textRole(s *goquery.Selection) (Role, bool) {
	switch goquery.NodeName(s) {
	case "input":
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "text")))
		switch typ {
		case "", "text", "email", "tel", "search":
			if _, ok := s.Attr(AttrPlaceholder); ok {
				return 0, false
			}
		}
		return RoleValue, true
	case "button", "a":
		return RoleLabel, true
	default:
		// textarea and option hold their value as text content
		return RoleText, true
	}
}

// Apply executes every binding with tr.
func Apply(bindings []Binding, tr Translator) {
	for _, b := range bindings {
		if b.sel == nil || b.Key == "" {
			continue
		}
		text := tr.T(b.Key)
		switch b.Role {
		case RoleText:
			b.sel.SetText(text)
		case RoleValue:
			b.sel.SetAttr("value", text)
		case RoleLabel:
			setLabel(b.sel, text)
		case RoleTitle:
			b.sel.SetAttr("title", text)
		case RoleAlt:
			b.sel.SetAttr("alt", text)
		case RolePlaceholder:
			b.sel.SetAttr("placeholder", text)
		}
	}
}

// Update scans root and applies tr to every binding. It is safe to call
// repeatedly.
func Update(root *goquery.Selection, tr Translator) int {
	bindings := Scan(root)
	Apply(bindings, tr)
	return len(bindings)
}

func setLabel(s *goquery.Selection, text string) {
	icon := s.Find("i").First()
	if icon.Length() == 0 {
		s.SetText(text)
		return
	}
	iconHTML, err := goquery.OuterHtml(icon)
	if err != nil {
		s.SetText(text)
		return
	}
	s.SetHtml(iconHTML)
	s.AppendNodes(&html.Node{Type: html.TextNode, Data: " " + text})
}
