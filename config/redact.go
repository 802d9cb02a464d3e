package config

import "strings"

// Mask keeps the first half of s and stars out the rest.
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

// Redacted returns a copy safe to print, with every secret masked.
func (c Config) Redacted() Config {
	c.Redis.Password = Mask(c.Redis.Password)
	c.AdminToken = Mask(c.AdminToken)
	c.OTLPToken = Mask(c.OTLPToken)
	return c
}
