// Package canonical produces byte-stable text forms of untrusted values.
//
// Two families of values are supported:
//
//  1. JSON values (the L1 output and the DSL entities nested in it)
//  2. SQL WHERE-suffix fragments (group definitions of kind where_sql)
//
// # Design Principles
//
// All canonical forms in this package adhere to the following constraints:
//
//  1. A canonical form is a pure function of the semantic value
//  2. Formatting noise (key order, whitespace, newline style, keyword case) never
//     reaches the canonical bytes
//  3. Canonicalizing a canonical form is a no-op
//
// SQL fragments are checked by the safety guard on their raw text before they are
// tokenized. The guard is conservative: it may reject a fragment whose string literal
// happens to contain a terminator, a comment marker or a denylisted keyword.
package canonical
