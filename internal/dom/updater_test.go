package dom

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapTranslator map[string]string

func (m mapTranslator) T(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

const page = `<!DOCTYPE html>
<html lang="es"><head><title data-i18n="page.title">Título</title></head>
<body>
  <h1 data-i18n="hero.title">Bienvenidos</h1>
  <p data-i18n="hero.missing">Texto</p>
  <a class="cta" href="#contact" data-i18n="hero.cta"><i class="fas fa-envelope"></i> Contacto</a>
  <button data-i18n="form.send">Enviar</button>
  <form>
    <input type="text" name="name" data-i18n="form.name" data-i18n-placeholder="form.name_ph" placeholder="Nombre">
    <input name="q" data-i18n="form.query">
    <input type="submit" data-i18n="form.submit" value="Enviar">
    <textarea data-i18n="form.message">Mensaje</textarea>
    <select id="languageSelector">
      <option value="es" data-i18n="lang.es" selected>Español</option>
      <option value="en" data-i18n="lang.en">Inglés</option>
    </select>
  </form>
  <img src="chapel.jpg" data-i18n-alt="img.chapel" alt="Capilla">
  <span class="info" data-i18n-title="tooltip.info" title="Info">i</span>
  <span class="current-language">Español</span>
</body></html>`

var english = mapTranslator{
	"page.title":   "Title",
	"hero.title":   "Welcome",
	"hero.cta":     "Contact <us>",
	"form.send":    "Send",
	"form.name":    "SHOULD NOT APPEAR",
	"form.name_ph": "Your name",
	"form.query":   "Search",
	"form.submit":  "Submit",
	"form.message": "Message",
	"lang.es":      "Spanish",
	"lang.en":      "English",
	"img.chapel":   "Chapel",
	"tooltip.info": "More information",
}

func parse(t *testing.T, raw string) *goquery.Document {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestScanClassifiesRoles(t *testing.T) {
	doc := parse(t, page)
	bindings := Scan(doc.Selection)

	roles := map[string]Role{}
	for _, b := range bindings {
		roles[b.Key] = b.Role
		assert.NotNil(t, b.Node())
	}

	assert.Equal(t, RoleText, roles["hero.title"])
	assert.Equal(t, RoleLabel, roles["hero.cta"])
	assert.Equal(t, RoleLabel, roles["form.send"])
	assert.Equal(t, RoleValue, roles["form.query"])
	assert.Equal(t, RoleValue, roles["form.submit"])
	assert.Equal(t, RoleText, roles["form.message"])
	assert.Equal(t, RoleText, roles["lang.en"])
	assert.Equal(t, RolePlaceholder, roles["form.name_ph"])
	assert.Equal(t, RoleAlt, roles["img.chapel"])
	assert.Equal(t, RoleTitle, roles["tooltip.info"])
	_, hasName := roles["form.name"]
	assert.False(t, hasName, "placeholder-marked text input must not get a text binding")
}

func TestUpdateRewritesElements(t *testing.T) {
	doc := parse(t, page)
	Update(doc.Selection, english)

	assert.Equal(t, "Title", doc.Find("title").Text())
	assert.Equal(t, "Welcome", doc.Find("h1").Text())
	assert.Equal(t, "hero.missing", doc.Find("p").Text())
	assert.Equal(t, "Send", doc.Find("button").Text())
	assert.Equal(t, "Your name", doc.Find(`input[name="name"]`).AttrOr("placeholder", ""))
	assert.Equal(t, "", doc.Find(`input[name="name"]`).AttrOr("value", ""))
	assert.Equal(t, "Search", doc.Find(`input[name="q"]`).AttrOr("value", ""))
	assert.Equal(t, "Submit", doc.Find(`input[type="submit"]`).AttrOr("value", ""))
	assert.Equal(t, "Message", doc.Find("textarea").Text())
	assert.Equal(t, "English", doc.Find(`option[value="en"]`).Text())
	assert.Equal(t, "Chapel", doc.Find("img").AttrOr("alt", ""))
	assert.Equal(t, "More information", doc.Find("span.info").AttrOr("title", ""))
}

func TestUpdatePreservesIcons(t *testing.T) {
	doc := parse(t, page)
	Update(doc.Selection, english)

	cta := doc.Find("a.cta")
	require.Equal(t, 1, cta.Find("i.fas.fa-envelope").Length())
	assert.Equal(t, " Contact <us>", cta.Text())

	out, err := Render(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `<i class="fas fa-envelope"></i> Contact &lt;us&gt;</a>`)
}

func TestUpdateIsIdempotent(t *testing.T) {
	doc := parse(t, page)
	Update(doc.Selection, english)
	first, err := Render(doc)
	require.NoError(t, err)

	Update(doc.Selection, english)
	Update(doc.Selection, english)
	again, err := Render(doc)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(again))
	assert.Equal(t, 1, doc.Find("a.cta i").Length())
}

func TestUpdateSubtreeOnly(t *testing.T) {
	doc := parse(t, `<html><body><div id="outside" data-i18n="a">x</div><div id="c"><p data-i18n="a">y</p></div></body></html>`)
	Update(doc.Find("#c"), mapTranslator{"a": "translated"})

	assert.Equal(t, "x", doc.Find("#outside").Text())
	assert.Equal(t, "translated", doc.Find("#c p").Text())
}

func TestUpdateIncludesRootElement(t *testing.T) {
	doc := parse(t, `<html><body><span id="s" data-i18n="a">x</span></body></html>`)
	n := Update(doc.Find("#s"), mapTranslator{"a": "A"})
	assert.Equal(t, 1, n)
	assert.Equal(t, "A", doc.Find("#s").Text())
}

func TestUpdateLanguageSelector(t *testing.T) {
	doc := parse(t, page)
	UpdateLanguageSelector(doc.Selection, "en", "English")

	_, esSelected := doc.Find(`option[value="es"]`).Attr("selected")
	_, enSelected := doc.Find(`option[value="en"]`).Attr("selected")
	assert.False(t, esSelected)
	assert.True(t, enSelected)
	assert.Equal(t, "English", doc.Find(".current-language").Text())
}

func TestUpdateLanguageSelectorInput(t *testing.T) {
	doc := parse(t, `<html><body><input id="languageSelector" value="es"></body></html>`)
	UpdateLanguageSelector(doc.Selection, "fr", "Français")
	assert.Equal(t, "fr", doc.Find("#languageSelector").AttrOr("value", ""))
}

func TestSetDocumentLanguage(t *testing.T) {
	doc := parse(t, page)
	SetDocumentLanguage(doc, "ca")
	out, err := Render(doc)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), `<html lang="ca">`))
}
