package microformats

import (
	"html"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// relReftypes maps rel values to the raw reftype they imply.
var relReftypes = map[string]webmention.RefType{
	"in-reply-to": webmention.RefReply,
	"reply":       webmention.RefReply,
	"reply-to":    webmention.RefReply,
	"like":        webmention.RefLike,
	"like-of":     webmention.RefLike,
	"repost":      webmention.RefRepost,
	"repost-of":   webmention.RefRepost,
}

// propertyReftypes lists h-entry reference properties in the order they are read.
var propertyReftypes = []struct {
	property string
	reftype  webmention.RefType
}{
	{"in-reply-to", webmention.RefReply},
	{"like-of", webmention.RefLike},
	{"repost-of", webmention.RefRepost},
	{"bookmark-of", webmention.RefBookmark},
}

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04-0700",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04-0700",
	time.RFC1123Z,
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Extract parses body and returns the first h-entry as a normalized Entry.
func Extract(body []byte, source string) (webmention.Entry, error) {
	base, err := url.Parse(source)
	if err != nil {
		return webmention.Entry{}, webmention.RejectWith(webmention.ReasonInvalidParameter, err, "source is not a valid url")
	}
	return ExtractDocument(Parse(body, base), source)
}

// ExtractDocument builds the Entry from an already parsed document.
func ExtractDocument(doc Document, source string) (webmention.Entry, error) {
	entries := doc.OfKind(KindEntry)
	if len(entries) == 0 {
		return webmention.Entry{}, webmention.Reject(webmention.ReasonNoEntryFound, "Could not find h-entry in source page")
	}
	hentry := entries[0]

	entry := webmention.Entry{
		Permalink:  source,
		References: references(doc, hentry),
	}
	if permalink := hentry.First("url"); permalink != "" {
		entry.Permalink = permalink
	}
	if published := strings.Join(hentry.Strings("published"), " "); published != "" {
		if ts, naive, ok := ParseTime(published); ok {
			entry.Published = &ts
			entry.PublishedNaive = naive
		}
	}

	var htmlParts, textParts []string
	for _, v := range hentry.Properties["content"] {
		text := strings.TrimSpace(v.Text)
		fragment := strings.TrimSpace(v.HTML)
		if fragment == "" {
			fragment = html.EscapeString(text)
		}
		htmlParts = append(htmlParts, fragment)
		textParts = append(textParts, text)
	}
	entry.ContentHTML = strings.Join(htmlParts, "")
	entry.ContentText = strings.Join(textParts, "")

	var titleParts []string
	for _, name := range hentry.Strings("name") {
		titleParts = append(titleParts, strings.TrimSpace(name))
	}
	if title := strings.Join(titleParts, ""); title != "" && title != entry.ContentText {
		entry.Title = &title
	}

	entry.Author = findAuthor(doc, hentry, source)
	return entry, nil
}

func references(doc Document, hentry *Item) []webmention.Reference {
	var refs []webmention.Reference

	rels := make([]string, 0, len(doc.Rels))
	for rel := range doc.Rels {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		reftype, ok := relReftypes[rel]
		if !ok {
			continue
		}
		for _, u := range doc.Rels[rel] {
			refs = append(refs, webmention.Reference{URL: u, RefType: reftype})
		}
	}

	for _, pr := range propertyReftypes {
		for _, v := range hentry.Properties[pr.property] {
			if v.Item == nil {
				refs = append(refs, webmention.Reference{URL: v.Text, RefType: pr.reftype})
				continue
			}
			for _, u := range v.Item.Strings("url") {
				refs = append(refs, webmention.Reference{URL: u, RefType: pr.reftype})
			}
		}
	}
	return refs
}

// findAuthor applies the author rules in order; the first rule that matches wins.
func findAuthor(doc Document, hentry *Item, source string) *webmention.Author {
	for _, v := range hentry.Properties["author"] {
		if v.Item == nil {
			return &webmention.Author{Name: v.Text}
		}
		return cardAuthor(v.Item)
	}

	cards := doc.OfKind(KindCard)
	for _, card := range cards {
		if slices.Contains(card.Strings("url"), source) {
			return cardAuthor(card)
		}
	}
	relMe := doc.Rels["me"]
	for _, card := range cards {
		for _, u := range card.Strings("url") {
			if slices.Contains(relMe, u) {
				return cardAuthor(card)
			}
		}
	}
	for _, card := range cards {
		if card.Has("url") {
			return cardAuthor(card)
		}
	}
	if len(cards) > 0 {
		return cardAuthor(cards[0])
	}
	return nil
}

func cardAuthor(card *Item) *webmention.Author {
	return &webmention.Author{
		Name:  card.First("name"),
		URL:   card.First("url"),
		Photo: card.First("photo"),
	}
}

// ParseTime parses a published string. Times carrying a zone offset are
// converted to UTC; times without one are returned as written with naive set.
func ParseTime(value string) (ts time.Time, naive bool, ok bool) {
	value = strings.TrimSpace(value)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), false, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true, true
		}
	}
	return time.Time{}, false, false
}
