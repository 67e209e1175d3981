// Package mimetype maps object keys to Content-Type values by extension.
package mimetype

import "strings"

const (
	HTML    = "text/html;charset=UTF-8"
	Default = "application/octet-stream"
)

var byExt = map[string]string{
	"html":  HTML,
	"css":   "text/css",
	"js":    "application/javascript",
	"json":  "application/json",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"ico":   "image/x-icon",
	"txt":   "text/plain;charset=UTF-8",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"eot":   "application/vnd.ms-fontobject",
}

// ForKey returns the content type for key. The extension is whatever follows
// the last ".", and a key without one is its own extension: "noext" gets
// Default while a bare "css" is served as text/css.
func ForKey(key string) string {
	ext := key[strings.LastIndexByte(key, '.')+1:]
	if ct, ok := byExt[strings.ToLower(ext)]; ok {
		return ct
	}
	return Default
}

// Bare drops media type parameters: "text/html;charset=UTF-8" -> "text/html".
func Bare(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(mt)
}

// IsHTML reports whether ct is an HTML media type, ignoring parameters.
func IsHTML(ct string) bool {
	return strings.EqualFold(Bare(ct), "text/html")
}
