// Package microformats turns fetched HTML into a tree of typed microformats2
// items and extracts the h-entry the receiver classifies.
package microformats

import (
	"bytes"
	"net/url"

	mf2 "willnorris.com/go/microformats"
)

// Kind tags an item as one of the vocabularies the extractor understands.
type Kind int

// Item kinds.
const (
	KindOther Kind = iota
	KindEntry
	KindCard
)

// String returns the root class name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "h-entry"
	case KindCard:
		return "h-card"
	default:
		return "other"
	}
}

// Item is one parsed microformats2 item.
type Item struct {
	Kind       Kind
	Types      []string
	Properties map[string][]Value
	Children   []*Item
}

// Value is one property value. Text is always set when the markup had any text;
// HTML is set for e-* properties and Item for embedded microformats.
type Value struct {
	Text string
	HTML string
	Item *Item
}

// Strings returns the plain text of every value of a property.
func (i *Item) Strings(name string) []string {
	if i == nil {
		return nil
	}
	values := i.Properties[name]
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.Text)
	}
	return out
}

// First returns the first text value of a property, or "".
func (i *Item) First(name string) string {
	if i == nil {
		return ""
	}
	for _, v := range i.Properties[name] {
		return v.Text
	}
	return ""
}

// Has reports whether the item carries the property at all.
func (i *Item) Has(name string) bool {
	if i == nil {
		return false
	}
	_, ok := i.Properties[name]
	return ok
}

// Document is a parsed page: its rel links and top-level items.
type Document struct {
	Rels  map[string][]string
	Items []*Item
}

// Parse parses html, resolving relative urls against base.
func Parse(html []byte, base *url.URL) Document {
	data := mf2.Parse(bytes.NewReader(html), base)
	doc := Document{Rels: map[string][]string{}}
	if data == nil {
		return doc
	}
	for rel, urls := range data.Rels {
		doc.Rels[rel] = append([]string(nil), urls...)
	}
	for _, mf := range data.Items {
		doc.Items = append(doc.Items, convert(mf))
	}
	return doc
}

// All returns every item: top-level items first, then nested children in
// document order.
func (d Document) All() []*Item {
	out := append([]*Item(nil), d.Items...)
	var walk func(items []*Item)
	walk = func(items []*Item) {
		for _, item := range items {
			out = append(out, item.Children...)
			walk(item.Children)
		}
	}
	walk(d.Items)
	return out
}

// OfKind filters All by kind.
func (d Document) OfKind(kind Kind) []*Item {
	var out []*Item
	for _, item := range d.All() {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

func convert(mf *mf2.Microformat) *Item {
	item := &Item{
		Kind:       kindOf(mf.Type),
		Types:      append([]string(nil), mf.Type...),
		Properties: make(map[string][]Value, len(mf.Properties)),
	}
	for name, raw := range mf.Properties {
		values := make([]Value, 0, len(raw))
		for _, v := range raw {
			values = append(values, convertValue(v))
		}
		item.Properties[name] = values
	}
	for _, child := range mf.Children {
		item.Children = append(item.Children, convert(child))
	}
	return item
}

func convertValue(raw any) Value {
	switch v := raw.(type) {
	case string:
		return Value{Text: v}
	case *mf2.Microformat:
		return Value{Text: v.Value, HTML: v.HTML, Item: convert(v)}
	case map[string]string:
		return Value{Text: v["value"], HTML: v["html"]}
	case map[string]any:
		text, _ := v["value"].(string)
		html, _ := v["html"].(string)
		return Value{Text: text, HTML: html}
	default:
		return Value{}
	}
}

func kindOf(types []string) Kind {
	kind := KindOther
	for _, t := range types {
		switch t {
		case "h-entry":
			return KindEntry
		case "h-card":
			kind = KindCard
		}
	}
	return kind
}
