package rulestore

import (
	"net/url"
	"os"
	"strings"
)

// connection keys understood in lib/pq key=value form
var dsnKeys = map[string]bool{
	"host": true, "port": true, "user": true,
	"password": true, "dbname": true, "sslmode": true,
}

// parseKV splits a lib/pq style "k=v k=v" list into a map with lower-cased
// keys. Tokens without '=' are dropped.
func parseKV(s string) map[string]string {
	m := make(map[string]string)
	for _, field := range strings.Fields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		m[strings.ToLower(k)] = v
	}
	return m
}

func isURLDSN(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// NormalizeDSN trims shell quoting and whitespace from a postgres DSN. URL
// form passes through; key=value form is re-joined with single spaces and
// gains sslmode=disable unless one was given. Anything else returns unchanged
// and the driver reports the error.
func NormalizeDSN(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), `"'`)
	if s == "" || isURLDSN(s) {
		return s
	}
	kv := parseKV(s)
	recognized := false
	for k := range kv {
		if dsnKeys[k] {
			recognized = true
			break
		}
	}
	if !recognized {
		return s
	}
	cleaned := strings.Join(strings.Fields(s), " ")
	if _, ok := kv["sslmode"]; !ok {
		cleaned += " sslmode=disable"
	}
	return cleaned
}

// ToURLDSN converts a key=value DSN into URL form, which golang-migrate
// requires. URL form, and anything missing host, user or dbname, passes
// through untouched.
func ToURLDSN(dsn string) string {
	if dsn == "" || isURLDSN(dsn) {
		return dsn
	}
	kv := parseKV(dsn)
	if kv["host"] == "" || kv["user"] == "" || kv["dbname"] == "" {
		return dsn
	}
	u := url.URL{Scheme: "postgres", Host: kv["host"], Path: "/" + kv["dbname"]}
	if port := kv["port"]; port != "" {
		u.Host += ":" + port
	}
	if pass := kv["password"]; pass != "" {
		u.User = url.UserPassword(kv["user"], pass)
	} else {
		u.User = url.User(kv["user"])
	}
	if mode := kv["sslmode"]; mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String()
}

// GetNormalizedDSN reads DATABASE_DSN from the environment and normalizes it.
func GetNormalizedDSN() string { return NormalizeDSN(os.Getenv("DATABASE_DSN")) }
