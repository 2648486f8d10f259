// Package il decodes and encodes CIL method bodies.
//
// Decode turns a method body into a Body: header fields, exception clauses,
// and the code split into Sequences at every branch target and clause
// boundary. Branch operands point at Sequences rather than holding byte
// offsets, so instructions can be inserted or removed without patching
// displacements.
//
// Encode lays the body out again. Every branch starts in its short form and
// is widened to the long form only when its displacement does not fit in a
// signed byte; the layout repeats until no branch widens. Non-branch
// instructions are emitted exactly as given.
//
//	b, err := il.Decode(data, rva)
//	if err != nil {
//		return err
//	}
//	b.Sequences[0].Insert(0, &il.Instruction{Op: il.Nop})
//	out, err := il.Encode(b)
package il
