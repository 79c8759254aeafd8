package rulestore

import "testing"

func TestNormalizeDSN(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"url passthrough", "postgres://u:p@db:5432/rules?sslmode=disable", "postgres://u:p@db:5432/rules?sslmode=disable"},
		{"quoted url", `"postgresql://u@db/rules"`, "postgresql://u@db/rules"},
		{"kv gains sslmode", "host=db user=u dbname=rules", "host=db user=u dbname=rules sslmode=disable"},
		{"kv keeps sslmode", "host=db user=u dbname=rules sslmode=require", "host=db user=u dbname=rules sslmode=require"},
		{"kv collapses spaces", "  host=db   user=u  dbname=rules ", "host=db user=u dbname=rules sslmode=disable"},
		{"unrecognized unchanged", "rules.db", "rules.db"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeDSN(tc.in); got != tc.want {
				t.Fatalf("NormalizeDSN(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestToURLDSN(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"url passthrough", "postgres://u@db/rules", "postgres://u@db/rules"},
		{"full kv", "host=db port=5432 user=u password=p dbname=rules sslmode=disable",
			"postgres://u:p@db:5432/rules?sslmode=disable"},
		{"no password no port", "host=db user=u dbname=rules", "postgres://u@db/rules"},
		{"missing dbname unchanged", "host=db user=u", "host=db user=u"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToURLDSN(tc.in); got != tc.want {
				t.Fatalf("ToURLDSN(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
