// Package classify turns an HTTP Content-Type header (and, as a fallback,
// a URL's path extension) into the coarse content kind the rest of the
// crawler branches on: HTML to parse, a binary document to store as-is,
// or something the crawler does not know how to handle.
package classify

import (
	"net/url"
	"path"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindHTML
	KindBinary
)

// binaryTypes mirrors the content-type -> document-type table the original
// crawler used to decide which responses are "binary content" worth saving
// verbatim. The robots.txt carve-out does not consult this table; it uses
// extensionTypes below.
var binaryTypes = map[string]string{
	"application/pdf":                        "PDF",
	"application/x-pdf":                      "PDF",
	"application/msword":                     "DOC",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "DOCX",
	"application/vnd.ms-powerpoint":                                           "PPT",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "PPTX",
	"application/vnd.ms-excel":                                                 "XLS",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":        "XLSX",
	"application/zip":                   "ZIP",
	"application/x-rar":                 "RAR",
	"application/x-rar-compressed":      "RAR",
	"application/x-7z-compressed":       "7Z",
	"application/x-tar":                 "TAR",
	"application/octet-stream":          "BIN",
	"image/tiff":                        "TIFF",
}

// genericBinaryCode is the code DocumentType falls back to when a response
// is known to be binary (octet-stream) but the Content-Type itself carries
// no document-type information. A URL extension match always refines this
// generic code, e.g. a PDF served as application/octet-stream still yields
// "PDF", not "BIN".
const genericBinaryCode = "BIN"

// extensionTypes maps the office-document extensions the URL-extension
// fallback (classifier rule 2) and the robots.txt binary carve-out both
// recognize regardless of what Content-Type the server declares.
var extensionTypes = map[string]string{
	".pdf":  "PDF",
	".doc":  "DOC",
	".docx": "DOCX",
	".ppt":  "PPT",
	".pptx": "PPTX",
	".xls":  "XLS",
	".xlsx": "XLSX",
}

// Classify inspects a Content-Type header value and the request URL and
// returns the coarse Kind the rest of the crawler needs. A known binary
// Content-Type yields KindBinary; next, a known document extension in the
// URL path yields KindBinary whatever the Content-Type says, including
// text/html; only then does an HTML Content-Type yield KindHTML. An empty
// or unrecognized result is KindUnknown, never
// KindHTML, so malformed responses don't silently get treated as pages.
func Classify(contentType string, target url.URL) Kind {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if _, ok := binaryTypes[mediaType]; ok {
		return KindBinary
	}
	if _, ok := extensionTypes[strings.ToLower(path.Ext(target.Path))]; ok {
		return KindBinary
	}
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		return KindHTML
	}
	return KindUnknown
}

// DocumentType returns the short document-type code (PDF, DOCX, ...) for a
// binary response. The Content-Type table is authoritative except for the
// generic application/octet-stream code, which the URL extension always
// refines when it identifies a specific document type (e.g. a 200 PDF
// served as application/octet-stream still yields "PDF").
func DocumentType(contentType string, target url.URL) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	code, known := binaryTypes[mediaType]
	extCode, hasExtCode := extensionTypes[strings.ToLower(path.Ext(target.Path))]

	if hasExtCode && (!known || code == genericBinaryCode) {
		return extCode
	}
	if known {
		return code
	}
	return ""
}

// IsBinaryExtension reports whether a URL path extension alone is enough to
// treat the resource as binary content, used by the robots carve-out which
// must allow known document extensions regardless of disallow rules.
func IsBinaryExtension(pathExt string) bool {
	_, ok := extensionTypes[strings.ToLower(pathExt)]
	return ok
}
