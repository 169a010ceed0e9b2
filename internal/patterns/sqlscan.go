package patterns

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// statement is one `;`-terminated SQL statement located in the raw content.
// code is the statement with comments and string literals blanked out so
// keyword checks never fire inside them; offsets are shared with content.
type statement struct {
	start int
	end   int
	code  string
}

var (
	reDDL        = regexp.MustCompile(`(?i)^(CREATE|DROP|ALTER|TRUNCATE|RENAME)\b`)
	reDML        = regexp.MustCompile(`(?i)^(SELECT|INSERT|UPDATE|DELETE|MERGE|WITH)\b`)
	reWhere      = regexp.MustCompile(`(?i)\bWHERE\b`)
	reCreatedTbl = regexp.MustCompile(`(?i)^CREATE\s+(?:TEMP(?:ORARY)?\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([\w."]+)`)
	reDroppedTbl = regexp.MustCompile(`(?i)^DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?([\w."]+)`)
	reReferenced = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE|ALTER\s+TABLE|TRUNCATE\s+TABLE)\s+(?:ONLY\s+)?([\w."]+)`)
)

// maskSQL replaces comments and single-quoted literals with spaces,
// keeping newlines so line numbers stay valid.
func maskSQL(content string) string {
	b := []byte(content)
	const (
		normal = iota
		lineComment
		blockComment
		literal
	)
	state := normal
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch state {
		case normal:
			switch {
			case c == '-' && i+1 < len(b) && b[i+1] == '-':
				state = lineComment
				b[i] = ' '
			case c == '/' && i+1 < len(b) && b[i+1] == '*':
				state = blockComment
				b[i], b[i+1] = ' ', ' '
				i++
			case c == '\'':
				state = literal
				b[i] = ' '
			}
		case lineComment:
			if c == '\n' {
				state = normal
				continue
			}
			b[i] = ' '
		case blockComment:
			if c == '*' && i+1 < len(b) && b[i+1] == '/' {
				b[i], b[i+1] = ' ', ' '
				i++
				state = normal
				continue
			}
			if c != '\n' {
				b[i] = ' '
			}
		case literal:
			if c == '\'' {
				if i+1 < len(b) && b[i+1] == '\'' {
					b[i], b[i+1] = ' ', ' '
					i++
					continue
				}
				state = normal
			}
			if c != '\n' {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

func splitStatements(content string) []statement {
	masked := maskSQL(content)
	var out []statement
	segStart := 0
	flush := func(end int) {
		seg := masked[segStart:end]
		trimmed := strings.TrimLeft(seg, " \t\r\n")
		if strings.TrimSpace(trimmed) == "" {
			return
		}
		start := segStart + (len(seg) - len(trimmed))
		out = append(out, statement{start: start, end: end, code: strings.TrimSpace(trimmed)})
	}
	for i := 0; i < len(masked); i++ {
		if masked[i] == ';' {
			flush(i + 1)
			segStart = i + 1
		}
	}
	if segStart < len(masked) {
		flush(len(masked))
	}
	return out
}

func (s statement) isDDL() bool { return reDDL.MatchString(s.code) }
func (s statement) isDML() bool { return reDML.MatchString(s.code) }

func (s statement) verb() string {
	fields := strings.Fields(s.code)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimRight(fields[0], ";"))
}

// match spans the statement head, capped at 100 bytes and backed off to
// a rune boundary of content.
func (s statement) match(content string) Match {
	end := min(s.end, s.start+100, len(content))
	for end > s.start && end < len(content) && !utf8.RuneStart(content[end]) {
		end--
	}
	return Match{Start: s.start, End: end}
}

// codeOnly matches pattern outside comments and string literals. Masking
// keeps byte offsets, so matches index the raw content.
func codeOnly(name, pattern string) FuncMatcher {
	re := regexp.MustCompile(`(?i)` + pattern)
	return FuncMatcher{Name: name, Fn: func(content string) []Match {
		locs := re.FindAllStringIndex(maskSQL(content), -1)
		out := make([]Match, 0, len(locs))
		for _, loc := range locs {
			out = append(out, Match{Start: loc[0], End: loc[1]})
		}
		return out
	}}
}

func normalizeTable(name string) string {
	return strings.ToLower(strings.Trim(name, `"`))
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return normalizeTable(m[1])
}

// unfilteredDML flags UPDATE or DELETE statements with no WHERE clause.
func unfilteredDML(verb string) FuncMatcher {
	return FuncMatcher{
		Name: "unfiltered-" + strings.ToLower(verb),
		Fn: func(content string) []Match {
			var out []Match
			for _, st := range splitStatements(content) {
				if st.verb() == verb && !reWhere.MatchString(st.code) {
					out = append(out, st.match(content))
				}
			}
			return out
		},
	}
}

// orphanedReferences flags statements that touch a table an earlier
// statement in the same artifact dropped (and did not recreate).
var orphanedReferences = FuncMatcher{
	Name: "orphaned-reference",
	Fn: func(content string) []Match {
		dropped := map[string]bool{}
		var out []Match
		for _, st := range splitStatements(content) {
			if t := firstGroup(reDroppedTbl, st.code); t != "" {
				dropped[t] = true
				continue
			}
			if t := firstGroup(reCreatedTbl, st.code); t != "" {
				delete(dropped, t)
			}
			for _, m := range reReferenced.FindAllStringSubmatch(st.code, -1) {
				if dropped[normalizeTable(m[1])] {
					out = append(out, st.match(content))
					break
				}
			}
		}
		return out
	},
}

// ddlDMLMix flags the first data statement of a file that also changes schema.
var ddlDMLMix = FuncMatcher{
	Name: "ddl-dml-mix",
	Fn: func(content string) []Match {
		var hasDDL bool
		var firstDML *statement
		for _, st := range splitStatements(content) {
			switch {
			case st.isDDL():
				hasDDL = true
			case st.isDML() && firstDML == nil:
				s := st
				firstDML = &s
			}
		}
		if !hasDDL || firstDML == nil {
			return nil
		}
		return []Match{firstDML.match(content)}
	},
}
