// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partmove/partmove/internal/logging"
)

func TestMaskRedactsCredentials(t *testing.T) {
	cases := map[string]string{
		"connecting with password=hunter2 to host":     "connecting with password=*** to host",
		"PWD=abc123 failed":                             "PWD=*** failed",
		"bearer token=eyJhbGciOi.xyz rejected":          "bearer token=*** rejected",
		"client_secret=s3cr3t&grant_type=refresh_token": "client_secret=***&grant_type=refresh_token",
		"no credentials here":                           "no credentials here",
	}
	for in, want := range cases {
		assert.Equal(t, want, logging.Mask(in))
	}
}
