// Package ast holds the syntax trees produced by the parser: function and
// struct items with their generic parameters, plus type expressions. Every
// node records its source span and, for items, the token range it covers so
// that rewriting passes can splice the original text.
package ast
