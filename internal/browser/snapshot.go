package browser

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

const (
	maxLabelLen = 120
	maxTextLen  = 64 << 10
)

// skippedTags are never descended into. Their content is neither interactive
// nor visible text.
var skippedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Head:     true,
	atom.Iframe:   true,
}

// selectorAttrs are tried in order when an element has no usable id.
var selectorAttrs = []string{"data-testid", "data-test", "data-qa", "name", "href", "aria-label", "placeholder", "role", "type"}

// candidate is an interactive node found during the walk.
type candidate struct {
	node     *html.Node
	form     *html.Node
	element  schemas.Element
	selector string
}

type snapshotBuilder struct {
	labelsFor map[string]string
	// occurrences counts every id and tag/attribute/value triple in the
	// document, so a selector is only used when it matches a single node.
	occurrences map[string]int
	forms       map[string]*html.Node
	found       []*candidate
	byNode      map[*html.Node]*candidate
	text        strings.Builder
	title       string
}

// BuildSnapshot turns the outer HTML of a page into a PageSnapshot. Hidden
// elements and non-content tags are dropped, every remaining interactive
// element gets a selector that is unique within the snapshot, and form fields
// are classified.
func BuildSnapshot(pageURL, markup string, fetchedAt time.Time) (*schemas.PageSnapshot, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page markup: %w", err)
	}

	b := &snapshotBuilder{
		labelsFor:   make(map[string]string),
		occurrences: make(map[string]int),
		forms:       make(map[string]*html.Node),
		byNode:      make(map[*html.Node]*candidate),
	}
	b.title = findTitle(doc)
	b.indexDocument(doc)
	b.walk(doc, walkState{})
	b.assignSelectors()

	elements := make([]schemas.Element, 0, len(b.found))
	for _, c := range b.found {
		el := c.element
		el.Selector = c.selector
		if c.form != nil {
			if fc, ok := b.byNode[c.form]; ok {
				el.Form = fc.selector
			}
		}
		elements = append(elements, el)
	}

	text := strings.TrimSpace(b.text.String())
	text = cut(text, maxTextLen)
	return schemas.NewPageSnapshot(pageURL, b.title, text, elements, fetchedAt), nil
}

type walkState struct {
	form     *html.Node
	label    *html.Node
	disabled bool
}

func (b *snapshotBuilder) walk(n *html.Node, st walkState) {
	if n.Type == html.ElementNode {
		if skippedTags[n.DataAtom] || isHidden(n) {
			return
		}
		switch n.DataAtom {
		case atom.Form:
			st.form = n
		case atom.Label:
			st.label = n
		case atom.Fieldset:
			if hasAttr(n, "disabled") {
				st.disabled = true
			}
		}
		b.consider(n, st)
	}
	if n.Type == html.TextNode {
		if t := collapse(n.Data); t != "" && b.text.Len() < maxTextLen {
			if b.text.Len() > 0 {
				b.text.WriteByte(' ')
			}
			b.text.WriteString(t)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c, st)
	}
}

// consider records n if it is interactive.
func (b *snapshotBuilder) consider(n *html.Node, st walkState) {
	el := schemas.Element{Name: attr(n, "name")}
	enabled := !st.disabled && !hasAttr(n, "disabled") && !strings.EqualFold(attr(n, "aria-disabled"), "true")
	form := st.form
	if id := attr(n, "form"); id != "" {
		if f, ok := b.forms[id]; ok {
			form = f
		}
	}

	switch n.DataAtom {
	case atom.Form:
		el.Role = schemas.RoleForm
		el.Label = firstNonEmpty(attr(n, "aria-label"), attr(n, "name"), attr(n, "id"))
		enabled = true
		form = nil
		if id := attr(n, "id"); id != "" {
			b.forms[id] = n
		}
	case atom.Button:
		el.Role = schemas.RoleButton
		el.InputType = strings.ToLower(firstNonEmpty(attr(n, "type"), "submit"))
		el.Label = firstNonEmpty(textContent(n), attr(n, "value"), attr(n, "aria-label"), attr(n, "title"))
	case atom.A:
		href := strings.TrimSpace(attr(n, "href"))
		switch {
		case href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:"):
			el.Role = schemas.RoleLink
			el.Href = href
		case strings.EqualFold(attr(n, "role"), "button"):
			el.Role = schemas.RoleButton
		default:
			return
		}
		el.Label = firstNonEmpty(textContent(n), attr(n, "aria-label"), attr(n, "title"))
	case atom.Input:
		typ := strings.ToLower(firstNonEmpty(attr(n, "type"), "text"))
		el.InputType = typ
		switch typ {
		case "hidden":
			return
		case "checkbox", "radio":
			el.Role = schemas.RoleCheckbox
		case "submit", "button", "image", "reset":
			el.Role = schemas.RoleButton
			def := "Submit"
			if typ != "submit" {
				def = ""
			}
			el.Label = firstNonEmpty(attr(n, "value"), attr(n, "aria-label"), attr(n, "alt"), def)
		default:
			el.Role = schemas.RoleInput
		}
		if hasAttr(n, "readonly") {
			enabled = false
		}
	case atom.Select:
		el.Role = schemas.RoleSelect
	case atom.Textarea:
		el.Role = schemas.RoleTextarea
	default:
		if !strings.EqualFold(attr(n, "role"), "button") {
			return
		}
		el.Role = schemas.RoleButton
		el.Label = firstNonEmpty(textContent(n), attr(n, "aria-label"), attr(n, "title"))
	}

	if el.IsFormField() {
		label := b.fieldLabel(n, st)
		if el.Label == "" {
			el.Label = label
		}
		hints := fieldHints{
			ID:           attr(n, "id"),
			Name:         el.Name,
			Class:        attr(n, "class"),
			Placeholder:  attr(n, "placeholder"),
			Label:        label,
			Autocomplete: attr(n, "autocomplete"),
			AriaLabel:    attr(n, "aria-label"),
			InputType:    el.InputType,
		}
		el.FieldKind, el.PaymentField = classifyField(hints)
		if el.FieldKind != schemas.FieldPayment {
			el.ProfileField = profileFieldKind(hints)
		}
	}
	el.Label = truncateLabel(el.Label)
	el.Enabled = enabled

	c := &candidate{node: n, form: form, element: el, selector: b.candidateSelector(n)}
	b.found = append(b.found, c)
	b.byNode[n] = c
}

func (b *snapshotBuilder) fieldLabel(n *html.Node, st walkState) string {
	if id := attr(n, "id"); id != "" {
		if l, ok := b.labelsFor[id]; ok {
			return l
		}
	}
	if st.label != nil {
		return textContent(st.label)
	}
	return firstNonEmpty(attr(n, "aria-label"), attr(n, "placeholder"), attr(n, "title"))
}

// indexDocument maps ids to the text of the <label for=...> that names them
// and counts selector keys over the whole document, hidden nodes included.
func (b *snapshotBuilder) indexDocument(n *html.Node) {
	if n.Type == html.ElementNode {
		if n.DataAtom == atom.Label {
			if id := attr(n, "for"); id != "" {
				b.labelsFor[id] = textContent(n)
			}
		}
		for _, a := range n.Attr {
			if a.Key == "id" {
				b.occurrences["#"+a.Val]++
				continue
			}
			b.occurrences[attrKey(n.Data, a.Key, a.Val)]++
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.indexDocument(c)
	}
}

func attrKey(tag, key, val string) string {
	return tag + "\x00" + key + "\x00" + val
}

// assignSelectors replaces any candidate selector that is not unique within
// the snapshot with the element's structural path.
func (b *snapshotBuilder) assignSelectors() {
	counts := make(map[string]int, len(b.found))
	for _, c := range b.found {
		counts[c.selector]++
	}
	seen := make(map[string]bool, len(b.found))
	for _, c := range b.found {
		if counts[c.selector] > 1 || seen[c.selector] {
			c.selector = structuralPath(c.node)
		}
		seen[c.selector] = true
	}
}

// candidateSelector prefers an id, then a stable attribute, as long as it
// matches exactly one node in the document. Anything else gets its
// structural path.
func (b *snapshotBuilder) candidateSelector(n *html.Node) string {
	tag := n.Data
	if id := attr(n, "id"); id != "" && b.occurrences["#"+id] == 1 {
		if isPlainIdent(id) {
			return "#" + id
		}
		return fmt.Sprintf(`%s[id="%s"]`, tag, quoteAttr(id))
	}
	for _, a := range selectorAttrs {
		v := attr(n, a)
		if v == "" || len(v) > 80 || b.occurrences[attrKey(tag, a, v)] != 1 {
			continue
		}
		return fmt.Sprintf(`%s[%s="%s"]`, tag, a, quoteAttr(v))
	}
	return structuralPath(n)
}

// structuralPath is a selector from the document root that matches only n.
func structuralPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		parts = append(parts, cur.Data+nthOfType(cur))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func nthOfType(n *html.Node) string {
	if n.Parent == nil {
		return ""
	}
	idx, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || s.Data != n.Data {
			continue
		}
		total++
		if s == n {
			idx = total
		}
	}
	if total <= 1 {
		return ""
	}
	return fmt.Sprintf(":nth-of-type(%d)", idx)
}

func isHidden(n *html.Node) bool {
	if hasAttr(n, "hidden") || strings.EqualFold(attr(n, "aria-hidden"), "true") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// textContent returns the collapsed visible text below n.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(c *html.Node) {
		if c.Type == html.ElementNode && (skippedTags[c.DataAtom] || isHidden(c)) {
			return
		}
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			rec(ch)
		}
	}
	rec(n)
	return collapse(sb.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateLabel(s string) string {
	return cut(s, maxLabelLen)
}

// cut shortens s to at most n bytes without splitting a UTF-8 sequence.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func isPlainIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') || s[0] == '-' {
		return false
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func quoteAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
