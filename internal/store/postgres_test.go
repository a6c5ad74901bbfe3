package store

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresOptions_DSN(t *testing.T) {
	opts := PostgresOptions{
		Host:        "db.internal",
		Port:        "5432",
		User:        "notes",
		Password:    "p@ss word",
		Database:    "student_ai_notes",
		SSLRootCert: "/etc/ssl/ca.pem",
	}

	u, err := url.Parse(opts.DSN())
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/student_ai_notes", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "verify-full", u.Query().Get("sslmode"))
	assert.Equal(t, "/etc/ssl/ca.pem", u.Query().Get("sslrootcert"))
}

func TestPostgresOptions_DSNWithoutCA(t *testing.T) {
	u, err := url.Parse(PostgresOptions{Host: "localhost", Port: "5432", User: "u", Database: "d"}.DSN())
	require.NoError(t, err)
	assert.Equal(t, "prefer", u.Query().Get("sslmode"))
	assert.Empty(t, u.Query().Get("sslrootcert"))
}
