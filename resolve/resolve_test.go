package resolve

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/ilweave/model"
)

func writeAssembly(t *testing.T, dir, file, assembly, typeName string) string {
	t.Helper()
	m := model.New(file, assembly)
	if err := m.AddType(model.NewTypeDef("Lib", typeName, model.TypePublic, 0)); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, file)
	if err := m.WriteFile(context.Background(), path, model.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadStrategies(t *testing.T) {
	dir := t.TempDir()
	path := writeAssembly(t, dir, "Lib.dll", "Lib", "Widget")
	want, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{StrategyFile, StrategyMmap} {
		read, err := Strategy(name)
		if err != nil {
			t.Fatal(err)
		}
		data, release, err := read(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("%s: content differs", name)
		}
		if release != nil {
			if err := release(); err != nil {
				t.Errorf("%s: release: %v", name, err)
			}
		}
	}

	if _, err := Strategy("carrier-pigeon"); err == nil {
		t.Error("unknown strategy accepted")
	}
	if _, _, err := ReadMapped(filepath.Join(dir, "missing.dll")); err == nil {
		t.Error("missing file mapped")
	}

	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	data, release, err := ReadMapped(empty)
	if err != nil || len(data) != 0 || release != nil {
		t.Errorf("empty file: %d bytes, %v", len(data), err)
	}
}

func TestLoadMapped(t *testing.T) {
	dir := t.TempDir()
	path := writeAssembly(t, dir, "Lib.dll", "Lib", "Widget")
	m, err := model.LoadFile(context.Background(), path, model.WithReadStrategy(ReadMapped))
	if err != nil {
		t.Fatal(err)
	}
	td, err := m.FindType("Lib.Widget")
	if err != nil || td == nil {
		t.Fatalf("Lib.Widget = %v, %v", td, err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDirectoryResolve(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeAssembly(t, second, "Lib.dll", "Lib", "Widget")
	writeAssembly(t, first, "Tool.exe", "Tool", "Main")
	// A file whose manifest names another assembly is skipped.
	writeAssembly(t, first, "Other.dll", "Renamed", "X")

	d := NewDirectory([]string{first, second})
	defer d.Close()
	ctx := context.Background()

	lib, err := d.Resolve(ctx, model.AssemblyName{Name: "lib", Version: model.Version{Major: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if lib.Assembly().Name != "Lib" {
		t.Errorf("resolved %s", lib.Assembly().Name)
	}
	again, err := d.Resolve(ctx, model.AssemblyName{Name: "Lib"})
	if err != nil || again != lib {
		t.Errorf("cache miss: %p vs %p, %v", again, lib, err)
	}

	tool, err := d.Resolve(ctx, model.AssemblyName{Name: "Tool"})
	if err != nil || tool.Assembly().Name != "Tool" {
		t.Errorf("exe lookup: %v", err)
	}

	if _, err := d.Resolve(ctx, model.AssemblyName{Name: "Other"}); err == nil {
		t.Error("mismatched manifest accepted")
	}
	if _, err := d.Resolve(ctx, model.AssemblyName{Name: "Nope"}); err == nil {
		t.Error("missing assembly resolved")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := d.Resolve(cancelled, model.AssemblyName{Name: "Lib"}); err == nil {
		t.Error("cancelled context ignored")
	}
}

func TestDirectoryAsModuleResolver(t *testing.T) {
	dir := t.TempDir()
	writeAssembly(t, dir, "Lib.dll", "Lib", "Widget")
	d := NewDirectory([]string{dir})
	defer d.Close()

	app := model.New("App.dll", "App", model.WithAssemblyResolver(d))
	ar, err := app.NewAssemblyRef(model.AssemblyName{Name: "Lib"})
	if err != nil {
		t.Fatal(err)
	}
	ref, err := app.NewTypeRef(ar.Token(), "Lib", "Widget")
	if err != nil {
		t.Fatal(err)
	}
	td, err := app.ResolveTypeRef(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if td.Name() != "Widget" || td.Module().Assembly().Name != "Lib" {
		t.Errorf("resolved %s in %s", td.Name(), td.Module().Name())
	}
}

func TestDirectoryAdd(t *testing.T) {
	d := NewDirectory(nil)
	if err := d.Add(model.New("net.netmodule", "")); err == nil {
		t.Error("module without manifest accepted")
	}
	m := model.New("Mem.dll", "Mem")
	if err := d.Add(m); err != nil {
		t.Fatal(err)
	}
	got, err := d.Resolve(context.Background(), model.AssemblyName{Name: "MEM"})
	if err != nil || got != m {
		t.Errorf("added module not returned: %v", err)
	}
	if _, err := d.Resolve(context.Background(), model.AssemblyName{Name: "Absent"}); err == nil {
		t.Error("absent assembly resolved")
	}
}
