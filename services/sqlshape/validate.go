// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlshape performs string-level validation and augmentation of
// SQL statements before execution. This is deliberately textual clause
// splicing, not AST rewriting: it is correct for single, simple top-level
// statements, and statements containing UNION blocks or nested SELECTs
// are exempted from clause injection rather than mis-spliced.
package sqlshape

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	selectRE      = regexp.MustCompile(`(?i)\bselect\b`)
	fromRE        = regexp.MustCompile(`(?i)\bfrom\b`)
	whereRE       = regexp.MustCompile(`(?i)\bwhere\b`)
	dualRE        = regexp.MustCompile(`(?i)\bdual\b`)
	limitClauseRE = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	orderByRE     = regexp.MustCompile(`(?i)\border\s+by\b`)
	unionRE       = regexp.MustCompile(`(?i)\bunion\b`)
)

// Validate applies gross structural checks to a SQL string.
//
// Description:
//
//	Rules, applied before execution and never silently corrected:
//	 - A SELECT ... WHERE without an intervening FROM is rejected.
//	 - Unbalanced /* */ comment delimiters are rejected.
//	 - A SELECT with neither FROM nor the literal DUAL is rejected.
//
// Inputs:
//
//	sql - The statement text.
//
// Outputs:
//
//	error - Nil when the statement passes; otherwise a description of the
//	        first failed rule.
//
// Thread Safety: Pure function; safe for concurrent use.
func Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("empty SQL statement")
	}

	if strings.Count(sql, "/*") != strings.Count(sql, "*/") {
		return fmt.Errorf("unbalanced comment delimiters")
	}

	selectLoc := selectRE.FindStringIndex(sql)
	if selectLoc == nil {
		return nil
	}

	fromLoc := fromRE.FindStringIndex(sql)
	whereLoc := whereRE.FindStringIndex(sql)

	if whereLoc != nil && (fromLoc == nil || fromLoc[0] > whereLoc[0]) {
		return fmt.Errorf("SELECT with WHERE but no intervening FROM")
	}

	if fromLoc == nil && !dualRE.MatchString(sql) {
		return fmt.Errorf("SELECT without FROM or DUAL")
	}

	return nil
}

// HasLimit reports whether the statement already carries a LIMIT clause.
func HasLimit(sql string) bool {
	return limitClauseRE.MatchString(sql)
}

// isCompound reports whether the statement contains a UNION block or a
// nested SELECT. Clause injection on such statements risks splicing into
// the wrong sub-query, so the augmenter skips it.
func isCompound(sql string) bool {
	if unionRE.MatchString(sql) {
		return true
	}
	return len(selectRE.FindAllStringIndex(sql, -1)) > 1
}
