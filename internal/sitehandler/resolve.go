package sitehandler

import "strings"

// DefaultIndexDocument is the key substituted for directory-style paths.
const DefaultIndexDocument = "index.html"

// ResolveKey maps a URL path to a storage key with the default index document.
func ResolveKey(urlPath string) string {
	return resolveKey(urlPath, DefaultIndexDocument)
}

// resolveKey strips one leading "/" and appends index when the path is empty
// or ends in "/". Nothing else is normalized: "/a" stays "a" and is not
// treated as a directory, and ".." segments pass through to the backend,
// which treats keys as opaque strings.
func resolveKey(urlPath, index string) string {
	key := strings.TrimPrefix(urlPath, "/")
	if key == "" || strings.HasSuffix(urlPath, "/") {
		key += index
	}
	return key
}
