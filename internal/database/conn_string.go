package database

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/deribit-rpc/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config.
// applicationName is reported in pg_stat_activity; empty omits it.
func BuildConnString(cfg config.DBConfig, applicationName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if applicationName != "" {
		q.Set("application_name", applicationName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Redact returns the connection URL with the password masked, for logs.
func Redact(connString string) string {
	u, err := url.Parse(connString)
	if err != nil {
		return fmt.Sprintf("<unparseable: %v>", err)
	}
	return u.Redacted()
}
