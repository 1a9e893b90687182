package store

import (
	"net/url"
	"strings"
)

// CollectionFromURL derives the collection identifier from a document's
// logical location: host plus path, with trailing slashes and query
// noise dropped, so revisiting the same board maps to the same entry.
func CollectionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(rawURL, "/")
	}
	p := strings.TrimSuffix(u.Path, "/")
	return u.Host + p
}
