// SPDX-License-Identifier: Apache-2.0

package logging

import "regexp"

// secretPattern matches key=value pairs whose key looks like a credential,
// case-insensitively, so password/token/secret material never reaches a
// sink even if it ends up embedded in a log message (e.g. from a
// connection-string error).
var secretPattern = regexp.MustCompile(`(?i)(password|pwd|token|secret)=([^\s&]+)`)

// Mask redacts credential-shaped substrings in msg before it reaches any
// log sink.
func Mask(msg string) string {
	return secretPattern.ReplaceAllString(msg, "$1=***")
}
