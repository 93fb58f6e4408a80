// Package secret renders credentials in a form safe for logs.
package secret

import (
	"net/url"
	"strings"
)

// Mask returns a masked representation of a secret string.
//   - length <= 5: fully masked
//   - length <= 20: first and last characters visible
//   - length > 20: first 3 and last 1 characters visible
func Mask(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}

// MaskCredential masks a basic-auth credential. The user part of a
// "user:password" pair stays readable.
func MaskCredential(c string) string {
	if user, pass, ok := strings.Cut(c, ":"); ok {
		return user + ":" + Mask(pass)
	}
	return Mask(c)
}

// MaskURL hides the password of any userinfo embedded in raw.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if p, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), Mask(p))
	}
	return u.String()
}
