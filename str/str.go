// Package str holds the small string helpers shared by the CLI and the
// transport, mostly for keeping credentials out of log output.
package str

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Mask hides the tail of a string, keeping just enough of the head to
// recognize which value it was.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// MaskURL masks the credential-bearing parts of a URL for logging: userinfo,
// path and query values. Scheme and host stay readable so the log line still
// identifies the endpoint.
func MaskURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	var out strings.Builder
	out.WriteString(u.Scheme)
	out.WriteString("://")
	if u.User != nil {
		out.WriteString(Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			out.WriteString(":")
			out.WriteString(Mask(pass))
		}
		out.WriteString("@")
	}
	out.WriteString(u.Host)
	if p := u.Path; p != "" && p != "/" {
		out.WriteString("/")
		if len(p) > 1 && p[0] == '/' {
			out.WriteString(Mask(p[1:]))
		}
	}
	var qs []string
	for k, v := range u.Query() {
		qs = append(qs, fmt.Sprintf("%s=%s", k, Mask(strings.Join(v, ","))))
	}
	sort.Strings(qs)
	if len(qs) > 0 {
		out.WriteString("?")
		out.WriteString(strings.Join(qs, "&"))
	}
	return out.String(), nil
}
