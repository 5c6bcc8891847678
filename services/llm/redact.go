// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "regexp"

type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns is ordered most-specific-first so a longer key format is
// never partially consumed by a shorter one.
var redactionPatterns = []redactionPattern{
	// OpenAI-style API key: sk-<base62, 20+ chars>. The length floor keeps
	// short strings like "sk-test" intact.
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:api_key]",
	},
	// Bearer token in Authorization header values.
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// Access key in URL query parameter or body echo: key=<value>.
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9+/=._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	// License keys share the base64 alphabet and a 20+ length floor.
	{
		Pattern:     regexp.MustCompile(`licenseKey=[A-Za-z0-9+/=]{20,}`),
		Replacement: "licenseKey=[REDACTED]",
	},
}

// SafeLogString redacts known secret patterns from a string before logging.
//
// Description:
//
//	Backend error bodies can echo request headers or query parameters back
//	verbatim. Each match is replaced with a labeled placeholder so the log
//	reader knows what class of secret was present without seeing its value.
//
// Inputs:
//   - s: The string to redact. Empty string is valid and returns empty.
//
// Outputs:
//   - string: The input with all matched secret patterns replaced.
//
// Limitations:
//   - Pattern-based detection only; secrets in non-standard formats pass
//     through unchanged.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}
