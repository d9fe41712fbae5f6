package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:          "ch.local",
		Port:          9000,
		Database:      "claritypull",
		User:          "reader",
		Password:      "p@ss",
		DialTimeout:   5 * time.Second,
		MaxExecTime:   time.Minute,
		MutationsSync: 2,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9000", u.Host)
	assert.Equal(t, "/claritypull", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "60", u.Query().Get("max_execution_time"))
	assert.Equal(t, "2", u.Query().Get("mutations_sync"))
	assert.Equal(t, "5s", u.Query().Get("dial_timeout"))
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "db", UseHTTP: true})
	assert.Contains(t, dsn, "http://ch:8123/db")
	assert.NotContains(t, dsn, "mutations_sync")
}
