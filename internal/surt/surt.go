// Package surt canonicalizes URLs into deduplication keys.
//
// Normalize produces a canonical URL string; Transform rewrites that canonical
// URL into Sort-friendly URI Reordering Transform (SURT) order, with the host
// labels reversed so keys for one site sort next to each other.
package surt

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ErrMalformedURL is matched by every error Normalize and Transform return.
var ErrMalformedURL = errors.New("malformed url")

// MalformedURLError reports the input that could not be normalized.
type MalformedURLError struct {
	URL string
	Err error
}

func (e *MalformedURLError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed url %q", e.URL)
	}
	return fmt.Sprintf("malformed url %q: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying parse failure.
func (e *MalformedURLError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMalformedURL) match.
func (e *MalformedURLError) Is(target error) bool {
	return target == ErrMalformedURL
}

var wwwPrefix = regexp.MustCompile(`^(www\d*\.)+`)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

// Normalize lowercases the URL, strips www. prefixes, userinfo, fragments and
// default ports, and sorts query parameters. Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	parts, err := parse(raw)
	if err != nil {
		return "", err
	}
	return parts.scheme + "://" + parts.authority() + parts.path + parts.query, nil
}

// Transform returns the SURT form of raw, e.g. "com,example)/a?b=1".
func Transform(raw string) (string, error) {
	parts, err := parse(raw)
	if err != nil {
		return "", err
	}
	host := parts.host
	if !parts.ip {
		labels := strings.Split(host, ".")
		for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
			labels[i], labels[j] = labels[j], labels[i]
		}
		host = strings.Join(labels, ",")
	}
	if parts.port != "" {
		host += ":" + parts.port
	}
	return host + ")" + parts.path + parts.query, nil
}

type urlParts struct {
	scheme string
	host   string
	ip     bool
	port   string
	path   string
	query  string
}

func (p urlParts) authority() string {
	if p.port == "" {
		return p.host
	}
	return p.host + ":" + p.port
}

func parse(raw string) (urlParts, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return urlParts{}, &MalformedURLError{URL: raw, Err: errors.New("empty url")}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return urlParts{}, &MalformedURLError{URL: raw, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return urlParts{}, &MalformedURLError{URL: raw, Err: errors.New("missing scheme or host")}
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	host = wwwPrefix.ReplaceAllString(host, "")
	if host == "" {
		return urlParts{}, &MalformedURLError{URL: raw, Err: errors.New("empty host")}
	}
	ip := net.ParseIP(host) != nil
	switch {
	case strings.Contains(host, ":") || strings.HasPrefix(u.Host, "["):
		addr, zone, _ := strings.Cut(host, "%")
		if net.ParseIP(addr) == nil {
			return urlParts{}, &MalformedURLError{URL: raw, Err: fmt.Errorf("invalid ip literal %q", host)}
		}
		host = "[" + addr
		if zone != "" {
			host += "%25" + escapeZone(zone)
		}
		host += "]"
		ip = true
	case strings.Contains(host, "%"):
		host = strings.ReplaceAll(host, "%", "%25")
	}

	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	query := sortQuery(strings.ToLower(u.RawQuery))
	if query != "" {
		query = "?" + query
	}

	return urlParts{
		scheme: scheme,
		host:   host,
		ip:     ip,
		port:   port,
		path:   strings.ToLower(path),
		query:  strings.ToLower(query),
	}, nil
}

// sortQuery orders parameters by key, keeping the relative order of repeated keys.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	if values, err := url.ParseQuery(rawQuery); err == nil {
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		folded := make(url.Values, len(values))
		for _, key := range keys {
			lowered := strings.ToLower(key)
			for _, v := range values[key] {
				folded[lowered] = append(folded[lowered], strings.ToLower(v))
			}
		}
		return folded.Encode()
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair != "" {
			kept = append(kept, pair)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return queryKey(kept[i]) < queryKey(kept[j])
	})
	return strings.Join(kept, "&")
}

// escapeZone percent-encodes every byte of an IPv6 zone outside the
// unreserved set so the bracketed host parses back to the same zone.
func escapeZone(zone string) string {
	var b strings.Builder
	for i := 0; i < len(zone); i++ {
		c := zone[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	return key
}
