package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/model"
	"github.com/wippyai/ilweave/signature"
)

var i4 = signature.Intrinsic{Kind: signature.ElemI4}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// writeFixtures writes Lib.dll defining Lib.Widget and App.dll whose
// Demo.Program extends it, and returns the path of App.dll. App.dll holds a
// single member reference, 0x0a000001, to Widget's size field.
func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	lib := model.New("Lib.dll", "Lib")
	widget := model.NewTypeDef("Lib", "Widget", model.TypePublic, 0)
	must(t, lib.AddType(widget))
	must(t, widget.AddField(model.NewFieldDef("size", model.FieldPublic, &signature.FieldSig{Type: i4})))
	must(t, lib.WriteFile(ctx, filepath.Join(dir, "Lib.dll"), model.WriteOptions{}))

	app := model.New("App.dll", "App")
	ar, err := app.NewAssemblyRef(model.AssemblyName{Name: "Lib", Version: model.Version{Major: 1}})
	must(t, err)
	ref, err := app.NewTypeRef(ar.Token(), "Lib", "Widget")
	must(t, err)
	prog := model.NewTypeDef("Demo", "Program", model.TypePublic, ref.Token())
	must(t, app.AddType(prog))
	answer := model.NewMethodDef("Answer", model.MethodPublic|model.MethodStatic, 0, &signature.MethodSig{Return: i4})
	must(t, prog.AddMethod(answer))
	body := il.NewBody()
	body.Sequences[0].Append(
		&il.Instruction{Op: il.LdcI4S, Operand: int8(42)},
		&il.Instruction{Op: il.Ret},
	)
	must(t, answer.SetBody(body))
	_, err = app.NewFieldRef(ref.Token(), "size", &signature.FieldSig{Type: i4})
	must(t, err)
	app.EntryPoint = answer.Token()

	path := filepath.Join(dir, "App.dll")
	must(t, app.WriteFile(ctx, path, model.WriteOptions{}))
	return path
}

func execute(args ...string) (string, error) {
	tablesFormat, tablesNames = formatText, nil
	roundtripWriteDir, roundtripPreserve = "", false
	configFile = ""

	out, err := os.CreateTemp("", "ilweave-out-*")
	if err != nil {
		return "", err
	}
	out.Close()
	defer os.Remove(out.Name())

	rootCmd.SetArgs(append([]string{"-o", out.Name(), "--color", "never"}, args...))
	err = rootCmd.ExecuteContext(context.Background())
	data, rerr := os.ReadFile(out.Name())
	if err == nil {
		err = rerr
	}
	return string(data), err
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestInfo(t *testing.T) {
	path := writeFixtures(t)
	out := run(t, "info", path)
	for _, want := range []string{
		"Module: App.dll",
		"Assembly: App, Version=0.0.0.0",
		"DLL, PE32",
		"ILOnly",
		"Entry point: 0x06000001",
		"#Strings",
		"TypeDef",
		"total",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTablesText(t *testing.T) {
	path := writeFixtures(t)
	out := run(t, "tables", "--table", "typedef", path)
	if !strings.Contains(out, "TypeDef (2 rows)") || !strings.Contains(out, `TypeName="Program"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "TypeRef (") {
		t.Error("table filter ignored")
	}
	if _, err := execute("tables", "--table", "NoSuchTable", path); err == nil {
		t.Error("unknown table accepted")
	}
}

func TestTablesCBOR(t *testing.T) {
	path := writeFixtures(t)
	out := run(t, "tables", "--format", "cbor", path)
	var d metadataDump
	must(t, cbor.Unmarshal([]byte(out), &d))
	if !strings.HasPrefix(d.Version, "v") {
		t.Errorf("version = %q", d.Version)
	}
	found := false
	for _, td := range d.Tables {
		if td.Name == "TypeDef" {
			found = true
			if len(td.Rows) != 2 || len(td.Columns) != len(td.Rows[0]) {
				t.Errorf("TypeDef dump = %+v", td)
			}
		}
	}
	if !found {
		t.Error("TypeDef missing")
	}
	if len(d.Heaps["#Strings"]) == 0 {
		t.Error("#Strings heap missing")
	}

	again := run(t, "tables", "--format", "cbor", path)
	if !bytes.Equal([]byte(out), []byte(again)) {
		t.Error("cbor output is not deterministic")
	}
}

func TestDump(t *testing.T) {
	path := writeFixtures(t)
	out := run(t, "dump", path)
	for _, want := range []string{
		".assembly extern Lib",
		".class public auto ansi Demo.Program",
		"extends [Lib]Lib.Widget",
		".entrypoint",
		"ldc.i4.s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestResolve(t *testing.T) {
	path := writeFixtures(t)
	out := run(t, "resolve", path, "0x01000001", "0x0a000001", "0x06000001")
	for _, want := range []string{
		"[Lib]Lib.Widget",
		"-> [Lib.dll] 0x02000002",
		"-> [Lib.dll] 0x04000001",
		"Demo.Program::Answer",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if _, err := execute("resolve", path, "zz"); err == nil {
		t.Error("malformed token accepted")
	}
}

func TestRoundtrip(t *testing.T) {
	path := writeFixtures(t)
	lib := filepath.Join(filepath.Dir(path), "Lib.dll")
	dst := t.TempDir()
	out := run(t, "roundtrip", "--write-dir", dst, path, lib)
	if strings.Count(out, "ok ") != 2 || strings.Contains(out, "FAIL") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dst, "App.dll")); err != nil {
		t.Errorf("rewritten assembly not saved: %v", err)
	}

	m, err := model.LoadFile(context.Background(), filepath.Join(dst, "App.dll"))
	must(t, err)
	defer m.Close()
	if td, err := m.FindType("Demo.Program"); err != nil || td == nil {
		t.Errorf("Demo.Program lost: %v", err)
	}
}

func TestConfigPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ilweave.toml")
	must(t, os.WriteFile(file, []byte("log_level = \"error\"\nparallelism = 3\nsearch_paths = [\"/opt/ref\"]\n"), 0o644))

	t.Setenv("ILWEAVE_PARALLELISM", "5")
	out := run(t, "config", "show", "--config", file, "--log-level", "info")

	var got Config
	must(t, toml.Unmarshal([]byte(out), &got))
	if got.LogLevel != "info" {
		t.Errorf("flag did not win: log_level = %q", got.LogLevel)
	}
	if got.Parallelism != 5 {
		t.Errorf("environment did not win over file: parallelism = %d", got.Parallelism)
	}
	if len(got.SearchPaths) != 1 || got.SearchPaths[0] != "/opt/ref" {
		t.Errorf("search_paths = %v", got.SearchPaths)
	}
	if got.ReadStrategy != "file" || got.Color != colorNever {
		t.Errorf("defaults = %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	must(t, c.Validate())

	bad := []func(*Config){
		func(c *Config) { c.ReadStrategy = "tape" },
		func(c *Config) { c.Color = "sometimes" },
		func(c *Config) { c.Parallelism = -1 },
		func(c *Config) { c.LogLevel = "chatty" },
	}
	for i, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d accepted: %+v", i, c)
		}
	}
	if _, err := execute("config", "show", "--config", filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestDescribeFlags(t *testing.T) {
	if got := describeFlags(0x9); got != "flags 0x00000009 (ILOnly, StrongNameSigned)" {
		t.Errorf("describeFlags = %q", got)
	}
	if got := describeFlags(0); got != "flags 0x00000000" {
		t.Errorf("describeFlags = %q", got)
	}
}
