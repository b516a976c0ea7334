package engine

import "strings"

// tableRefs extracts the table references of a query by scanning tokens
// after FROM and JOIN keywords. Subqueries and table functions are skipped.
// This is deliberately a shallow scan: it only needs to decide whether every
// referenced table is qualified with the pushdown source alias, and any
// ambiguity falls back to the generic plan.
func tableRefs(sqlText string) []string {
	repl := strings.NewReplacer(",", " , ", "(", " ( ", ")", " ) ", ";", " ")
	toks := strings.Fields(repl.Replace(sqlText))

	var refs []string
	for i := 0; i < len(toks)-1; i++ {
		switch strings.ToLower(toks[i]) {
		case "from", "join":
			next := toks[i+1]
			if next == "(" || next == "," {
				continue
			}
			refs = append(refs, strings.Trim(next, `"`))
		}
	}
	return refs
}

// allQualified reports whether every reference carries the alias prefix.
func allQualified(refs []string, alias string) bool {
	if len(refs) == 0 {
		return false
	}
	prefix := strings.ToLower(alias) + "."
	for _, ref := range refs {
		if !strings.HasPrefix(strings.ToLower(ref), prefix) {
			return false
		}
	}
	return true
}
