// Package urlnorm reduces story URLs to a canonical form so the same article
// reached through different links is stored once.
package urlnorm

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// trackingParams are dropped from query strings
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"msclkid":      true,
	"_hsenc":       true,
	"_hsmi":        true,
	"mc_cid":       true,
	"mc_eid":       true,
}

var tldrTracking = regexp.MustCompile(`^https://tracking\.tldrnewsletter\.com/CL0/(.+?)/`)

// UnwrapTracking returns the target of a TLDR newsletter tracking link,
// or raw unchanged when it is not one.
func UnwrapTracking(raw string) string {
	m := tldrTracking.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	target := strings.ReplaceAll(m[1], "%2F", "/")
	target = strings.ReplaceAll(target, "%3A", ":")
	if strings.HasPrefix(target, "http") {
		return target
	}
	return raw
}

// Canonicalize rewrites raw without any network access. Input that does not
// parse as an absolute URL is returned unchanged.
func Canonicalize(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return raw
	}

	host := strings.ToLower(u.Host)
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(host)
	b.WriteString(path)
	if query := canonicalQuery(u.RawQuery); query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

// canonicalQuery filters tracking parameters and sorts the remaining raw
// key=value pairs.
func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	var params []string
	for _, p := range strings.Split(raw, "&") {
		if p == "" {
			continue
		}
		key, _, hasValue := strings.Cut(p, "=")
		if hasValue && trackingParams[key] {
			continue
		}
		params = append(params, p)
	}
	sort.Strings(params)
	return strings.Join(params, "&")
}
