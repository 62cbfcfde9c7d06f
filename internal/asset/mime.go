package asset

import "strings"

// DefaultContentType is used when neither the blob store nor the extension
// table knows better.
const DefaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	"apng": "image/apng",
	"avif": "image/avif",
	"bmp":  "image/bmp",
	"gif":  "image/gif",
	"heic": "image/heic",
	"heif": "image/heif",
	"ico":  "image/vnd.microsoft.icon",
	"jpe":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"svg":  "image/svg+xml",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"json": "application/json",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
}

// ContentTypeFor returns the MIME type for ext, falling back to
// DefaultContentType. The lookup only depends on the extension so it is the
// same for every process.
func ContentTypeFor(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}
