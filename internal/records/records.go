// Package records defines the record collections and the projection between
// the flat wire shape and the known-columns + extra-bundle storage shape.
package records

import "encoding/json"

// Record is the flat wire shape of one collection entry.
type Record map[string]any

// Collection describes one record variant: its URL name, table, and the
// fixed set of schema columns. Everything outside Columns travels in the
// extra bundle.
type Collection struct {
	Name    string
	Table   string
	Columns []string
}

var (
	Copyrights = Collection{
		Name:  "copyrights",
		Table: "copyrights",
		Columns: []string{
			"name", "registration_no", "version", "owner",
			"completion_date", "registration_date", "certificate_file",
		},
	}
	Papers = Collection{
		Name:  "papers",
		Table: "papers",
		Columns: []string{
			"title", "authors", "journal", "publish_date",
			"doi", "indexing", "file",
		},
	}
	Patents = Collection{
		Name:  "patents",
		Table: "patents",
		Columns: []string{
			"title", "type", "application_no", "inventors",
			"application_date", "status", "application_file", "certificate_file",
		},
	}
)

var collections = map[string]Collection{
	Copyrights.Name: Copyrights,
	Papers.Name:     Papers,
	Patents.Name:    Patents,
}

// ByName resolves a collection by its URL name.
func ByName(name string) (Collection, bool) {
	c, ok := collections[name]
	return c, ok
}

// Split projects an inbound record onto the collection's schema columns,
// filling missing columns with the empty string, and packs every remaining
// key into a JSON extra bundle.
func (c Collection) Split(rec Record) (known map[string]string, extraJSON string) {
	known = make(map[string]string, len(c.Columns))
	for _, col := range c.Columns {
		known[col] = stringValue(rec[col])
	}

	extra := make(map[string]any)
	for key, value := range rec {
		if _, ok := known[key]; !ok {
			extra[key] = value
		}
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return known, "{}"
	}
	return known, string(raw)
}

// Merge reassembles the flat record from stored column values and the extra
// bundle. A malformed bundle is treated as empty rather than failing the
// read; the raw bundle itself is never part of the result.
func (c Collection) Merge(known map[string]string, extraJSON string) Record {
	rec := make(Record, len(known))
	for _, col := range c.Columns {
		rec[col] = known[col]
	}

	var extra map[string]any
	_ = json.Unmarshal([]byte(extraJSON), &extra)
	for key, value := range extra {
		rec[key] = value
	}
	return rec
}

// stringValue coerces a decoded JSON value into the TEXT column shape:
// strings pass through, nil becomes empty, everything else keeps its JSON
// encoding.
func stringValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
