package portal

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// findLoginForm returns the first form holding an input named field.
func findLoginForm(doc *goquery.Document, field string) *goquery.Selection {
	var form *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		if f.Find(`input[name="`+field+`"]`).Length() > 0 {
			form = f
			return false
		}
		return true
	})
	return form
}

// formValues resolves the form action against page and collects the values
// of its named inputs (CSRF tokens and other hidden fields).
func formValues(form *goquery.Selection, page *url.URL) (*url.URL, url.Values) {
	action := page
	if raw, ok := form.Attr("action"); ok && strings.TrimSpace(raw) != "" {
		if ref, err := url.Parse(strings.TrimSpace(raw)); err == nil {
			action = page.ResolveReference(ref)
		}
	}

	vals := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ, _ := in.Attr("type")
		switch strings.ToLower(typ) {
		case "submit", "button", "image", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		v, _ := in.Attr("value")
		vals.Set(name, v)
	})
	return action, vals
}

func parseCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// roomName is the text of the badge's closest room element with the badge
// itself removed.
func roomName(badge *goquery.Selection, roomSel, badgeSel string) string {
	room := badge.Closest(roomSel)
	if room.Length() == 0 {
		return ""
	}
	c := room.Clone()
	c.Find(badgeSel).Remove()
	return strings.Join(strings.Fields(c.Text()), " ")
}
