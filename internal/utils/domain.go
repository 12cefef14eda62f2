package utils

import (
    "errors"
    "strings"
)

// ErrInvalidDomain is returned when a domain is empty after normalisation
// or contains characters a host name cannot carry.
var ErrInvalidDomain = errors.New("invalid domain")

// NormalizeDomain turns user input such as "https://www.Facebook.com/home"
// into the stored form "facebook.com": lower case, no scheme, no leading
// "www.", no port, path, query or trailing dot.
func NormalizeDomain(in string) (string, error) {
    d := strings.ToLower(strings.TrimSpace(in))
    if i := strings.Index(d, "://"); i >= 0 {
        d = d[i+3:]
    }
    if i := strings.IndexAny(d, "/?#"); i >= 0 {
        d = d[:i]
    }
    if i := strings.LastIndex(d, "@"); i >= 0 {
        d = d[i+1:]
    }
    if i := strings.LastIndex(d, ":"); i >= 0 {
        d = d[:i]
    }
    d = strings.TrimPrefix(d, "www.")
    d = strings.TrimSuffix(d, ".")
    if d == "" || strings.HasPrefix(d, ".") || strings.Contains(d, "..") {
        return "", ErrInvalidDomain
    }
    for _, r := range d {
        switch {
        case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
        default:
            return "", ErrInvalidDomain
        }
    }
    return d, nil
}

// HostMatches reports whether host is domain itself or a dot-suffix
// subdomain of it.  "m.facebook.com" matches "facebook.com";
// "notfacebook.com" and "facebook.com.evil.org" do not.
func HostMatches(host, domain string) bool {
    host = strings.TrimSuffix(strings.ToLower(host), ".")
    domain = strings.TrimSuffix(strings.ToLower(domain), ".")
    if host == "" || domain == "" {
        return false
    }
    if host == domain {
        return true
    }
    return strings.HasSuffix(host, "."+domain)
}
