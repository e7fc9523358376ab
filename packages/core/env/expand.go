package env

import (
	"os"
	"regexp"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Expand replaces ${VAR} and ${VAR:-default} references using the
// process environment. An unset ${VAR} becomes the empty string; the
// default is used when VAR is unset or empty.
func Expand(s string) string {
	return ExpandWith(s, os.LookupEnv)
}

// ExpandWith is Expand with a custom lookup.
func ExpandWith(s string, lookup LookupFunc) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		val, ok := lookup(m[1])
		if (!ok || val == "") && m[2] != "" {
			return m[3]
		}
		return val
	})
}

// References returns the names of the variables s refers to.
func References(s string) []string {
	var names []string
	for _, m := range envPattern.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}
