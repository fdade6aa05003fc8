// SPDX-License-Identifier: Apache-2.0

// Package connstr builds libpq connection strings from a ConnectionConfig.
package connstr

import (
	"fmt"
	"unicode"

	"github.com/partmove/partmove/pkg/model"
)

// Build returns a libpq key=value connection string for cfg, with password
// substituted in from plaintext (already unsealed by the vault).
func Build(cfg model.ConnectionConfig, plaintextPassword string) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = model.SSLModeDisable
	}

	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		quoteValue(cfg.Host),
		cfg.Port,
		quoteValue(cfg.DBName),
		quoteValue(cfg.User),
		quoteValue(plaintextPassword),
		quoteValue(string(sslmode)),
	)
}

// quoteValue applies libpq keyword/value escaping: wrap in single quotes and
// backslash-escape embedded quotes and backslashes whenever the value is
// empty or contains whitespace/quotes.
func quoteValue(v string) string {
	needsQuote := v == ""
	for _, r := range v {
		if unicode.IsSpace(r) || r == '\'' || r == '\\' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return v
	}

	out := make([]byte, 0, len(v)+2)
	out = append(out, '\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' || v[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, v[i])
	}
	out = append(out, '\'')
	return string(out)
}
