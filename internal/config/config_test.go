package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `env: dev
api_port: 9090
postgres:
  host: db
  port: "5432"
  user: ledger
  pass: secret
  db: ledger
ledger:
  max_downline_nodes: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", "from-env")

	cfg := MustLoad()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 9090, cfg.ApiPort)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, 500, cfg.Ledger.MaxDownlineNodes)
	assert.Equal(t, 100, cfg.Ledger.MaxPageLimit)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "postgres://ledger:secret@db:5432/ledger?sslmode=disable", cfg.Postgres.DSN())
}

func TestPostgresDSN_EscapesCredentials(t *testing.T) {
	p := Postgres{Host: "db", Port: "5432", User: "led ger", Pass: "p@ss:w/rd?#", Db: "ledger"}

	dsn := p.DSN()
	u, err := url.Parse(dsn)
	require.NoError(t, err)

	pass, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "led ger", u.User.Username())
	assert.Equal(t, "p@ss:w/rd?#", pass)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/ledger", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}
