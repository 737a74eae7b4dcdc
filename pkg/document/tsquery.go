package document

import "strings"

// Op is a tsquery boolean combinator.
type Op int

const (
	And Op = iota
	Or
	Not
)

func (o Op) symbol() string {
	switch o {
	case Or:
		return "|"
	case Not:
		return "!"
	default:
		return "&"
	}
}

// SanitizeTerm prepares a single search term for inclusion in a tsquery
// string: control characters are stripped, embedded single quotes are
// escaped, and a multi-word phrase is wrapped in single quotes so the
// backend treats it as one lexeme group rather than separate operands.
func SanitizeTerm(term string) string {
	var b strings.Builder
	for _, r := range term {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return ""
	}

	escaped := strings.ReplaceAll(cleaned, "'", "''")
	if strings.ContainsAny(escaped, " \t") {
		return "'" + escaped + "'"
	}
	return escaped
}

// BuildQuery combines already-sanitized terms with a single boolean
// operator, parenthesizing the whole group when there is more than one
// term. No spaces are emitted between operands and operators, matching
// the backend's to_tsquery dialect.
func BuildQuery(op Op, terms ...string) string {
	nonEmpty := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0]
	}

	sym := op.symbol()
	joined := strings.Join(nonEmpty, sym)
	return "(" + joined + ")"
}

// Negate wraps a single already-sanitized term or parenthesized group with
// the negation operator.
func Negate(term string) string {
	if term == "" {
		return ""
	}
	return "!" + term
}
