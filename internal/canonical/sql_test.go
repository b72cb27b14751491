package canonical

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQL_Canonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  a.city_id IN (1,2) and a.name like 'O''Brien%'  ", "a.city_id IN (1,2) AND a.name LIKE 'O''Brien%'"},
		{"A.City_Id   in(1 , 2)", "a.city_id IN (1,2)"},
		{"x>=1\tOR\ny<>2", "x > = 1 OR y < > 2"},
		{"x> =1", "x > = 1"},
		{"1+2", "1+2"},
		{"a - 1e-3", "a - 1e-3"},
		{`"Mixed Case" = 'Keep ME'`, `"Mixed Case" = 'Keep ME'`},
		{"price between 1.5 and 2e3", "price BETWEEN 1.5 AND 2e3"},
		{"t . col is not null", "t.col IS NOT NULL"},
		{"name::text || 'x' != ''", "name : : text | | 'x' ! = ''"},
		{"v = 1.5.2", "v = 1.5.2"},
		{"1 . END", "1 .END"},
		{"ÉTAT = 'ok'", "état = 'ok'"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := SQL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSQL_Idempotent(t *testing.T) {
	inputs := []string{
		"a.city_id IN (1,2) and a.name like 'O''Brien%'",
		"1 . END",
		"1 . e5 , 1. 5",
		"f( x ,y )",
		"((a))",
		"a<=b or c!=d",
		`"q""uoted" . col`,
		"x = 1.5.2",
		"1 .e5",
		"1- 2 + 3",
		"x>=1 and y<>2",
	}
	for _, in := range inputs {
		once, err := SQL(in)
		require.NoError(t, err, in)
		twice, err := SQL(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice, in)
	}
}

func TestSQL_SpellingsOfOneFragmentAgree(t *testing.T) {
	pairs := [][2]string{
		{"x>=1", "x> =1"},
		{"x >= 1", "x > = 1"},
		{"a<>b", "a < > b"},
		{"n BETWEEN 1+2 and 3", "n between 1+2 AND 3"},
	}
	for _, p := range pairs {
		a, err := SQL(p[0])
		require.NoError(t, err, p[0])
		b, err := SQL(p[1])
		require.NoError(t, err, p[1])
		assert.Equal(t, a, b, "%q vs %q", p[0], p[1])
	}
}

func TestTokenize_NumbersAreGreedy(t *testing.T) {
	toks, err := Tokenize("1+2-3e+4.5 x")
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, Token{Kind: TokenNumber, Text: "1+2-3e+4.5", Pos: 0}, toks[0])
	assert.Equal(t, TokenIdentifier, toks[1].Kind)
}

func TestSQL_KeywordCaseOption(t *testing.T) {
	c := SQLCanonicalizer{UppercaseKeywords: false}
	got, err := c.Canonicalize("A AND B")
	require.NoError(t, err)
	assert.Equal(t, "a and b", got)
}

func TestSQL_UnterminatedQuote(t *testing.T) {
	for _, in := range []string{"name = 'abc", `"col = 1`, "x = 'it''s"} {
		_, err := SQL(in)
		var mal *MalformedFragmentError
		require.True(t, errors.As(err, &mal), "%q: got %v", in, err)
	}
}

func TestSQL_RejectsUnsafeBeforeTokenizing(t *testing.T) {
	// The terminator sits inside an unterminated literal; the guard still wins.
	_, err := SQL("x = 'a;")
	var unsafe *UnsafeFragmentError
	require.True(t, errors.As(err, &unsafe))
	assert.Equal(t, RuleStatementTerminator, unsafe.Rule)
}

func TestTokenize_Kinds(t *testing.T) {
	toks, err := Tokenize(`a.b >= 1.5e-3 AND "Q" <> 'l''x'`)
	require.NoError(t, err)

	type kt struct {
		Kind TokenKind
		Text string
	}
	var got []kt
	for _, tok := range toks {
		got = append(got, kt{tok.Kind, tok.Text})
	}
	want := []kt{
		{TokenIdentifier, "a"},
		{TokenPunct, "."},
		{TokenIdentifier, "b"},
		{TokenPunct, ">"},
		{TokenPunct, "="},
		{TokenNumber, "1.5e-3"},
		{TokenIdentifier, "AND"},
		{TokenQuotedIdentifier, `"Q"`},
		{TokenPunct, "<"},
		{TokenPunct, ">"},
		{TokenString, `'l''x'`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckFragment(t *testing.T) {
	tests := []struct {
		in    string
		rule  string
		token string
	}{
		{"x = 1; DROP TABLE t", RuleStatementTerminator, ";"},
		{"x = 1 -- note", RuleComment, "--"},
		{"x = 1 /* hi", RuleComment, "/*"},
		{"x = 1 */", RuleComment, "*/"},
		{"x IN (select id from t) or drop = 1", RuleMutatingKeyword, "DROP"},
		{"Delete", RuleMutatingKeyword, "DELETE"},
		{"(do)", RuleMutatingKeyword, "DO"},
		{"note = 'please update me'", RuleMutatingKeyword, "UPDATE"},
	}
	for _, tt := range tests {
		err := CheckFragment(tt.in)
		var unsafe *UnsafeFragmentError
		require.True(t, errors.As(err, &unsafe), "%q: got %v", tt.in, err)
		assert.Equal(t, tt.rule, unsafe.Rule, tt.in)
		assert.Equal(t, tt.token, unsafe.Token, tt.in)
	}
}

func TestCheckFragment_WordBoundaries(t *testing.T) {
	for _, in := range []string{
		"updated_at > 1",
		"created = true",
		"dropout_rate < 0.5",
		"doc_id = 3",
		"a.domain = 'x'",
		"deleted_flag IS NULL",
	} {
		assert.NoError(t, CheckFragment(in), in)
	}
}
