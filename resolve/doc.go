// Package resolve provides the default collaborators a model.Module needs
// to reach outside its own image: an assembly resolver that searches
// directories, and read strategies that load files whole or map them.
//
//	dir := resolve.NewDirectory([]string{"/usr/lib/mono/4.5"},
//		model.WithReadStrategy(resolve.ReadMapped))
//	defer dir.Close()
//	m, err := model.LoadFile(ctx, "app.dll", model.WithAssemblyResolver(dir))
package resolve
