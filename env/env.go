// Package env reads dotenv files and resolves settings from cobra flags and
// the process environment.
package env

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []EnvLine{}, nil
		}
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses KEY=value lines. Blank lines and # comments are
// skipped, an optional "export " prefix is dropped and matching single or
// double quotes are removed. Values may reference earlier keys or the
// process environment as ${NAME} or ${NAME:-default}.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	lines := []EnvLine{}
	known := make(map[string]string)
	for n, raw := range strings.Split(string(buf), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf("line %d: expected KEY=value", n+1)
		}
		val = expand(dequote(strings.TrimSpace(val)), known)
		known[key] = val
		lines = append(lines, EnvLine{Key: key, Val: val})
	}
	return lines, nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// expand replaces ${NAME} and ${NAME:-default}. Unresolved references
// without a default are left as written.
func expand(s string, known map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		out.WriteString(s[:start])
		name, def, _ := strings.Cut(s[start+2:end], ":-")
		val, ok := known[name]
		if !ok || val == "" {
			val = os.Getenv(name)
		}
		switch {
		case val != "":
			out.WriteString(val)
		case def != "":
			out.WriteString(def)
		default:
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	out.WriteString(s)
	return out.String()
}

// Apply exports lines into the process environment without overriding
// variables that are already set.
func Apply(lines []EnvLine) error {
	for _, l := range lines {
		if _, ok := os.LookupEnv(l.Key); ok {
			continue
		}
		if err := os.Setenv(l.Key, l.Val); err != nil {
			return errors.Wrapf(err, "set %s", l.Key)
		}
	}
	return nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
		return f.Value.String()
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}
