package wire

// canonicalNames restores the casing the service expects for headers whose
// lower-cased form some servers reject.
var canonicalNames = map[string]string{
	"authorization":   "Authorization",
	"x-authorization": "X-Authorization",
	"x-api-key":       "X-API-Key",
	"x-api-key-db":    "X-API-Key-DB",
	"content-type":    "Content-Type",
	"content-length":  "Content-Length",
	"accept":          "Accept",
}

// CanonicalName returns the service's spelling of a lower-cased header name,
// or the name unchanged.
func CanonicalName(name string) string {
	if c, ok := canonicalNames[name]; ok {
		return c
	}
	return name
}
