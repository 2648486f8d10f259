package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/wippyai/ilweave/metadata"
)

const (
	formatText = "text"
	formatCBOR = "cbor"
)

var (
	tablesFormat string
	tablesNames  []string
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ilweave: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	tablesCmd.Flags().StringVarP(&tablesFormat, "format", "f", formatText, "output format (text, cbor)")
	tablesCmd.Flags().StringSliceVarP(&tablesNames, "table", "t", nil, "only dump the named tables")
}

var tablesCmd = &cobra.Command{
	Use:   "tables <assembly>",
	Short: "Dump raw metadata tables",
	Long: `Dump the rows of every present metadata table. The text format decodes
heap references and coded indexes; the cbor format writes the raw column
values and heap bytes in canonical CBOR for machine comparison.`,
	Args: cobra.ExactArgs(1),
	RunE: runTables,
}

// tableDump is the CBOR shape of one table.
type tableDump struct {
	Name    string     `cbor:"name"`
	Columns []string   `cbor:"columns"`
	Rows    [][]uint32 `cbor:"rows"`
}

type metadataDump struct {
	Version string            `cbor:"version"`
	Tables  []tableDump       `cbor:"tables"`
	Heaps   map[string][]byte `cbor:"heaps"`
}

func runTables(cmd *cobra.Command, args []string) error {
	m, done, err := openModule(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer done()

	ts := m.Tables()
	ids, err := selectTables(ts, tablesNames)
	if err != nil {
		return err
	}

	switch tablesFormat {
	case formatText:
		st := newStyles()
		for _, t := range ids {
			if err := writeTableText(ts, t, st); err != nil {
				return err
			}
		}
		return nil
	case formatCBOR:
		data, err := cborEncMode.Marshal(dumpTables(ts, ids))
		if err != nil {
			return fmt.Errorf("failed to encode tables: %w", err)
		}
		_, err = output.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q", tablesFormat)
}

// selectTables returns the present tables, restricted to names when given.
func selectTables(ts *metadata.TableStore, names []string) ([]metadata.TableID, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	var ids []metadata.TableID
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		if !t.Valid() || ts.RowCount(t) == 0 {
			continue
		}
		key := strings.ToLower(t.String())
		if len(want) > 0 && !want[key] {
			continue
		}
		delete(want, key)
		ids = append(ids, t)
	}
	for n := range want {
		if _, ok := tableByName(n); !ok {
			return nil, fmt.Errorf("unknown table %q", n)
		}
	}
	return ids, nil
}

func tableByName(name string) (metadata.TableID, bool) {
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		if t.Valid() && strings.EqualFold(t.String(), name) {
			return t, true
		}
	}
	return 0, false
}

func dumpTables(ts *metadata.TableStore, ids []metadata.TableID) metadataDump {
	d := metadataDump{
		Version: ts.Root.Version,
		Heaps:   map[string][]byte{},
	}
	for _, t := range ids {
		cols := metadata.Schema(t)
		td := tableDump{Name: t.String()}
		for _, c := range cols {
			td.Columns = append(td.Columns, c.Name)
		}
		for rid := uint32(1); rid <= ts.RowCount(t); rid++ {
			row := make([]uint32, len(cols))
			for i := range cols {
				row[i] = ts.Value(t, rid, i)
			}
			td.Rows = append(td.Rows, row)
		}
		d.Tables = append(d.Tables, td)
	}
	if ts.Strings != nil {
		d.Heaps[metadata.StreamStrings] = ts.Strings.Bytes()
	}
	if ts.Blobs != nil {
		d.Heaps[metadata.StreamBlob] = ts.Blobs.Bytes()
	}
	if ts.GUIDs != nil {
		d.Heaps[metadata.StreamGUID] = ts.GUIDs.Bytes()
	}
	if ts.UserStrings != nil {
		d.Heaps[metadata.StreamUserStrings] = ts.UserStrings.Bytes()
	}
	return d
}

func writeTableText(ts *metadata.TableStore, t metadata.TableID, st styles) error {
	cols := metadata.Schema(t)
	n := ts.RowCount(t)
	fmt.Fprintf(output, "%s (%d rows)\n", st.title.Render(t.String()), n)
	for rid := uint32(1); rid <= n; rid++ {
		row, err := ts.ReadRow(t, rid)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "  %s", st.token.Render(metadata.NewToken(t, rid).String()))
		for i, c := range cols {
			fmt.Fprintf(&b, " %s=%s", st.dim.Render(c.Name), columnText(ts, c, row[i]))
		}
		fmt.Fprintln(output, b.String())
	}
	fmt.Fprintln(output)
	return nil
}

func columnText(ts *metadata.TableStore, c metadata.Column, v uint32) string {
	switch c.Kind {
	case metadata.ColU16:
		return fmt.Sprintf("0x%04x", v)
	case metadata.ColU32:
		return fmt.Sprintf("0x%08x", v)
	case metadata.ColString:
		if ts.Strings == nil {
			return fmt.Sprintf("#Strings[0x%x]", v)
		}
		s, err := ts.Strings.Get(v)
		if err != nil {
			return fmt.Sprintf("#Strings[0x%x]?", v)
		}
		return strconv.Quote(s)
	case metadata.ColGUID:
		if v == 0 || ts.GUIDs == nil {
			return "null"
		}
		g, err := ts.GUIDs.Get(v)
		if err != nil {
			return fmt.Sprintf("#GUID[%d]?", v)
		}
		return "{" + strings.ToUpper(g.String()) + "}"
	case metadata.ColBlob:
		if v == 0 || ts.Blobs == nil {
			return "blob()"
		}
		data, err := ts.Blobs.Get(v)
		if err != nil {
			return fmt.Sprintf("#Blob[0x%x]?", v)
		}
		return fmt.Sprintf("blob(0x%x, %d bytes)", v, len(data))
	case metadata.ColTable:
		if v == 0 {
			return "nil"
		}
		return metadata.NewToken(c.Table, v).String()
	case metadata.ColCoded:
		tok, err := metadata.Coded(c.Coded).Decode(v)
		if err != nil {
			return fmt.Sprintf("%s(0x%x)?", c.Coded, v)
		}
		if tok.IsNil() {
			return "nil"
		}
		return tok.String()
	}
	return strconv.FormatUint(uint64(v), 10)
}
