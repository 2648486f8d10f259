// Package peimage reads and writes the PE container around CLI metadata.
//
// Read locates the CLI header through the COM descriptor directory and maps
// RVAs to file bytes section by section. Write emits a fresh PE32 image with
// a .text section holding the CLI header, method bodies, field data,
// resources, the strong-name slot, metadata and the mscoree import stub, and
// a .reloc section with the one fixup the stub needs.
//
// Writing is two-step: Plan assigns RVAs so metadata can refer to them, then
// Write places the encoded metadata after everything it points at.
//
//	p := peimage.Plan(layout)
//	md := encodeMetadata(p.BodyRVAs)
//	image, err := peimage.Write(layout, md)
package peimage
