package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/model"
	"github.com/wippyai/ilweave/peimage"
)

var infoCmd = &cobra.Command{
	Use:   "info <assembly>",
	Short: "Display assembly information",
	Long:  `Display the runtime header, identity, heap sizes and table row counts of an assembly.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var cliFlagNames = []struct {
	flag uint32
	name string
}{
	{peimage.FlagILOnly, "ILOnly"},
	{peimage.Flag32BitRequired, "32BitRequired"},
	{peimage.FlagStrongNameSigned, "StrongNameSigned"},
	{peimage.FlagNativeEntryPoint, "NativeEntryPoint"},
	{peimage.FlagTrackDebugData, "TrackDebugData"},
	{peimage.Flag32BitPreferred, "32BitPreferred"},
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := args[0]
	m, done, err := openModule(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer done()

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	im := m.Image()
	ts := m.Tables()
	st := newStyles()

	fmt.Fprintf(output, "%s %s (%s)\n", st.label.Render("File:"), path, humanize.Bytes(uint64(fi.Size())))
	fmt.Fprintf(output, "%s %s\n", st.label.Render("Module:"), m.Name())
	fmt.Fprintf(output, "%s {%s}\n", st.label.Render("MVID:"), strings.ToUpper(m.Def().Mvid.String()))
	if a := m.Assembly(); a != nil {
		fmt.Fprintf(output, "%s %s\n", st.label.Render("Assembly:"), a.AssemblyName())
	}
	kind := "EXE"
	if im.IsDLL() {
		kind = "DLL"
	}
	fmt.Fprintf(output, "%s %s, PE32%s, %s\n", st.label.Render("Image:"), kind, plusSuffix(im.PE32Plus), describeFlags(im.CLI.Flags))
	fmt.Fprintf(output, "%s %s (CLI header %d.%d, tables %d.%d)\n", st.label.Render("Runtime:"),
		ts.Root.Version, im.CLI.MajorRuntimeVersion, im.CLI.MinorRuntimeVersion,
		ts.Header.MajorVersion, ts.Header.MinorVersion)
	if ep := m.EntryPoint; !ep.IsNil() {
		fmt.Fprintf(output, "%s %s %s\n", st.label.Render("Entry point:"), ep, m.FormatToken(ep))
	}
	if n := im.StrongNameSize(); n > 0 {
		fmt.Fprintf(output, "%s %d bytes\n", st.label.Render("Strong name:"), n)
	}

	fmt.Fprintln(output)
	fmt.Fprintln(output, st.title.Render("Streams"))
	for _, s := range ts.Root.Streams {
		fmt.Fprintf(output, "  %-12s %10s\n", s.Name, humanize.Bytes(uint64(s.Size)))
	}
	if ts.GUIDs != nil {
		fmt.Fprintf(output, "  %-12s %10d\n", "GUID count", ts.GUIDs.Count())
	}

	fmt.Fprintln(output)
	fmt.Fprintln(output, st.title.Render("Tables"))
	writeRowCounts(m)
	return nil
}

func writeRowCounts(m *model.Module) {
	p := message.NewPrinter(language.English)
	ts := m.Tables()
	var total uint32
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		n := ts.RowCount(t)
		if n == 0 {
			continue
		}
		total += n
		sorted := ""
		if ts.IsSorted(t) {
			sorted = " sorted"
		}
		p.Fprintf(output, "  %-24s %10d%s\n", t, n, sorted)
	}
	p.Fprintf(output, "  %-24s %10d\n", "total", total)
}

func plusSuffix(plus bool) string {
	if plus {
		return "+"
	}
	return ""
}

func describeFlags(flags uint32) string {
	var names []string
	for _, f := range cliFlagNames {
		if flags&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("flags 0x%08x", flags)
	}
	return fmt.Sprintf("flags 0x%08x (%s)", flags, strings.Join(names, ", "))
}
