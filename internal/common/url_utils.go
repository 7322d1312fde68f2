package common

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization.
// Two URLs differing only in these refer to the same resource.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"ref", "source", "campaign", "gclid", "fbclid",
}

// CanonicalizeURL normalizes a URL for comparison and fingerprinting:
// scheme and host lowercased, fragment dropped, tracking params stripped,
// trailing slash removed.
func CanonicalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for _, p := range trackingParams {
			q.Del(p)
		}
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// PagedURL builds the paginated form of a catalog URL. Page 1 is the
// base URL itself; later pages append the page query parameter.
func PagedURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", base, sep, page)
}

// URLHash returns a short stable identifier for a URL, used for
// checkpoint filenames.
func URLHash(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// URLOrigin returns scheme://host for resolving relative hrefs.
func URLOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// AbsoluteURL resolves href against origin when href is relative.
func AbsoluteURL(origin, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return origin + href
	}
	return origin + "/" + href
}
