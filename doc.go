// Package ilweave reads, models and writes .NET assemblies: the CLI metadata
// and IL defined by ECMA-335.
//
// This module lets Go programs inspect an assembly, change its types, members
// and method bodies, and write a valid image back. Everything the rewrite does
// not touch is preserved: untouched method bodies, heap entries and row order
// survive a load and write cycle.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	ilweave/
//	├── peimage/         PE/COFF container: CLI header, sections, RVA mapping
//	├── metadata/        Metadata root, heaps, table schema and row storage
//	├── signature/       Signature blobs: types, method, field, local signatures
//	├── marshal/         Native marshalling descriptors
//	├── attr/            Custom attribute and security blob values
//	├── il/              Method bodies: opcodes, branches, exception clauses
//	├── model/           Lazy symbolic model, text output and the writer
//	├── resolve/         Assembly resolution from search directories
//	├── batch/           Parallel per-module processing
//	├── errors/          Structured error types for debugging
//	└── cmd/ilweave/     Command-line inspector and round-trip checker
//
// # Quick Start
//
// Load an assembly, rename a type and write it back:
//
//	m, err := model.LoadFile(ctx, "Library.dll")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	td, err := m.FindType("Demo.Widget")
//	if err != nil || td == nil {
//	    log.Fatal("Demo.Widget not found")
//	}
//	if err := td.SetName("Gadget"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.WriteFile(ctx, "Library.out.dll", model.WriteOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//
// # Cross-Assembly Resolution
//
// References to other assemblies resolve through an AssemblyResolver. The
// resolve package provides one that searches directories:
//
//	dir := resolve.NewDirectory([]string{"/usr/lib/mono/4.5"})
//	defer dir.Close()
//	m, err := model.LoadFile(ctx, "App.exe", model.WithAssemblyResolver(dir))
//
// # Thread Safety
//
// A Module and the declarations reachable from it must be used by a single
// goroutine. Independent modules may be processed in parallel; see the batch
// package. A resolve.Directory may be shared between goroutines.
//
// # Write Semantics
//
// Writing freezes the module: later mutations fail with a Frozen error.
// Tokens are renumbered on write, so tokens held from before the write refer
// to the old numbering.
package ilweave
