// Package signature decodes and encodes ECMA-335 signature blobs (II.23.2)
// into immutable type trees.
//
// Types reference other types by metadata.Token, never by pointer, so a tree
// decoded from one blob offset compares equal to the same shape decoded from
// another. Equal and MethodEqual compare structurally with generic parameters
// identified by position; EqualFunc lets callers plug in a cross-module token
// comparison. Map rebuilds a tree through a token remap.
package signature
