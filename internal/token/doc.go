// Package token defines lexical token kinds for the Rust subset handled by
// rsbridge.
// Invariants:
//   - Token.Text is a slice of the original source (no copies).
//   - Token.Span matches Text exactly (Start..End).
//   - Whitespace and comments never appear in the token stream; the text
//     between two tokens is recovered from their spans.
//   - Primitive type names (i32, f64, usize, ...) are identifiers.
//   - ">>" is a single token; the parser splits it when closing generics.
package token
