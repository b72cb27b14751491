package canonical

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a SQL fragment token.
type TokenKind int

const (
	TokenIdentifier TokenKind = iota
	TokenQuotedIdentifier
	TokenString
	TokenNumber
	TokenPunct
)

func (k TokenKind) String() string {
	switch k {
	case TokenIdentifier:
		return "identifier"
	case TokenQuotedIdentifier:
		return "quoted_identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenPunct:
		return "punct"
	default:
		return "unknown"
	}
}

// Token is one lexical unit of a SQL fragment. Pos is the byte offset of
// the token in the scanned text.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// sqlKeywords are upper-cased during canonicalization. Every other bare
// identifier is lower-cased.
var sqlKeywords = map[string]struct{}{
	"AND": {}, "OR": {}, "IN": {}, "IS": {}, "NULL": {}, "NOT": {}, "EXISTS": {},
	"SELECT": {}, "FROM": {}, "WHERE": {}, "ORDER": {}, "BY": {}, "LIMIT": {},
	"JOIN": {}, "LEFT": {}, "RIGHT": {}, "INNER": {}, "OUTER": {}, "ON": {}, "AS": {},
	"DISTINCT": {}, "GROUP": {}, "HAVING": {}, "CASE": {}, "WHEN": {}, "THEN": {},
	"ELSE": {}, "END": {}, "LIKE": {}, "ILIKE": {}, "BETWEEN": {},
}

// Tokenize scans fragment left to right. It does not apply the safety guard.
func Tokenize(fragment string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(fragment) {
		r, size := utf8.DecodeRuneInString(fragment[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '\'' || r == '"':
			end, err := scanQuoted(fragment, i, byte(r))
			if err != nil {
				return nil, err
			}
			kind := TokenString
			if r == '"' {
				kind = TokenQuotedIdentifier
			}
			tokens = append(tokens, Token{Kind: kind, Text: fragment[i:end], Pos: i})
			i = end

		case r == '_' || unicode.IsLetter(r):
			end := i + size
			for end < len(fragment) {
				next, n := utf8.DecodeRuneInString(fragment[end:])
				if !isWordRune(next) {
					break
				}
				end += n
			}
			tokens = append(tokens, Token{Kind: TokenIdentifier, Text: fragment[i:end], Pos: i})
			i = end

		case r >= '0' && r <= '9':
			end := scanNumber(fragment, i)
			tokens = append(tokens, Token{Kind: TokenNumber, Text: fragment[i:end], Pos: i})
			i = end

		default:
			tokens = append(tokens, Token{Kind: TokenPunct, Text: fragment[i : i+size], Pos: i})
			i += size
		}
	}
	return tokens, nil
}

// scanQuoted returns the end offset of the quoted token starting at start.
// A doubled quote inside the token is an escaped quote.
func scanQuoted(s string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(s) {
		if s[i] != quote {
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i += 2
			continue
		}
		return i + 1, nil
	}
	what := "string literal"
	if quote == '"' {
		what = "quoted identifier"
	}
	return 0, &MalformedFragmentError{Pos: start, Msg: "unterminated " + what}
}

// scanNumber consumes a digit followed by any run of digits and the
// characters of ".eE+-". Operators such as "<=" are never joined: every
// rune outside the other token classes is its own token.
func scanNumber(s string, start int) int {
	i := start + 1
	for i < len(s) && strings.IndexByte("0123456789.eE+-", s[i]) >= 0 {
		i++
	}
	return i
}

// SQLCanonicalizer produces the canonical text of a WHERE-suffix fragment.
type SQLCanonicalizer struct {
	// UppercaseKeywords upper-cases allow-listed keywords. When false they
	// are lower-cased like any other identifier.
	UppercaseKeywords bool
}

var defaultSQL = SQLCanonicalizer{UppercaseKeywords: true}

// SQL canonicalizes fragment with the default settings.
func SQL(fragment string) (string, error) {
	return defaultSQL.Canonicalize(fragment)
}

// Canonicalize guards, tokenizes and re-joins fragment.
func (c SQLCanonicalizer) Canonicalize(fragment string) (string, error) {
	if err := CheckFragment(fragment); err != nil {
		return "", err
	}
	tokens, err := Tokenize(fragment)
	if err != nil {
		return "", err
	}
	for i := range tokens {
		if tokens[i].Kind != TokenIdentifier {
			continue
		}
		upper := strings.ToUpper(tokens[i].Text)
		if _, kw := sqlKeywords[upper]; kw && c.UppercaseKeywords {
			tokens[i].Text = upper
		} else {
			tokens[i].Text = strings.ToLower(tokens[i].Text)
		}
	}
	return joinTokens(tokens), nil
}

func joinTokens(tokens []Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && spaceBetween(tokens[i-1], tok) {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Text)
	}
	return b.String()
}

func spaceBetween(prev, next Token) bool {
	// A dot glued to a number would be scanned back as part of it.
	if prev.Kind == TokenNumber && next.Kind == TokenPunct && next.Text == "." {
		return true
	}
	if prev.Kind == TokenPunct {
		switch prev.Text {
		case "(", ",", ".":
			return false
		}
	}
	if next.Kind == TokenPunct {
		switch next.Text {
		case ")", ",", ".":
			return false
		}
	}
	return true
}
