package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`SELECT 1`, `SELECT 1`},
		{`SELECT * FROM posts WHERE id = ?`, `SELECT * FROM posts WHERE id = $1`},
		{
			`INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
			`INSERT INTO tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		},
		{
			`SELECT id FROM envelopes WHERE tld = ? AND subdomain = ? AND created_at > ?`,
			`SELECT id FROM envelopes WHERE tld = $1 AND subdomain = $2 AND created_at > $3`,
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rebind(tc.in))
	}
}
