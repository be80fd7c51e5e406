package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var queryFolder = cases.Fold()

// NormalizeQuery canonicalizes a query for cache keying: Unicode case
// folding plus whitespace collapse. Two queries differing only in case or
// spacing share a cache entry.
func NormalizeQuery(query string) string {
	folded := queryFolder.String(strings.TrimSpace(query))
	return strings.Join(strings.Fields(folded), " ")
}

// TitleCase renders a display title from a raw tag or identifier.
func TitleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// Key builds the cache key sha1(collection \n normalized_query \n filter_json).
// encoding/json sorts map keys, so equal filters always produce equal keys.
func Key(collection, query string, filter map[string]string) string {
	filterJSON := "{}"
	if len(filter) > 0 {
		if data, err := json.Marshal(filter); err == nil {
			filterJSON = string(data)
		}
	}

	payload := collection + "\n" + NormalizeQuery(query) + "\n" + filterJSON
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
