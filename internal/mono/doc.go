// Package mono specializes generic guest functions for concrete type
// arguments.
//
// A generic function is analyzed once into a GenericInfo. InferBindings
// unifies its parameter types against the types of actual arguments;
// Specialize rewrites the function over its tokens into a C-ABI export whose
// symbol encodes the bindings. Registry caches instances per (name, bindings).
package mono
