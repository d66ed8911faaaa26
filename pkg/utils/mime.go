package utils

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// ExtensionFor returns the first standard extension of mimeType, or ".bin".
func ExtensionFor(mimeType string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// DocumentName picks the file name shown to the user. It prefers name, then
// the last segment of rawURL, then "document" plus an extension derived from
// contentType.
func DocumentName(name, rawURL, contentType string) string {
	if name = strings.TrimSpace(name); name != "" {
		return path.Base(strings.ReplaceAll(name, "\\", "/"))
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	return "document" + ExtensionFor(contentType)
}
