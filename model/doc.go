// Package model is the symbolic view of a CLI module: types, members,
// references and attributes as Go values instead of table rows.
//
// Load wraps a PE image without decoding it. Declarations materialize on
// first access through Module.Resolve, and each token maps to exactly one
// declaration for the life of the module, so pointer identity is type
// identity. Member lists of a type or method load the first time any of them
// is read. References between declarations are tokens; ownership (a type's
// fields, a method's parameters) is held by pointer.
//
// New starts an empty module. Declarations built with NewTypeDef,
// NewMethodDef and friends are detached until added to an owner, which gives
// them a token above every loaded row.
//
// Write assigns fresh row numbers, rewrites every token the graph holds
// (signatures, IL operands, coded indexes), and emits a new image. Method
// bodies that were never touched are copied byte for byte when their tokens
// did not move. Writing freezes the module; later mutation fails.
//
//	m, err := model.LoadFile(ctx, "app.dll")
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	t, _ := m.FindType("App.Program")
//	_ = t.SetName("Main")
//	err = m.WriteFile(ctx, "app.out.dll", model.WriteOptions{})
package model
