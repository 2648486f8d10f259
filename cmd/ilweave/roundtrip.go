package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/batch"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/model"
)

var (
	roundtripWriteDir string
	roundtripPreserve bool
)

func init() {
	roundtripCmd.Flags().StringVar(&roundtripWriteDir, "write-dir", "", "also write each rewritten assembly into this directory")
	roundtripCmd.Flags().BoolVar(&roundtripPreserve, "preserve-heap-sizes", false, "keep the input's wide heap index flags")
}

var roundtripCmd = &cobra.Command{
	Use:   "roundtrip <assembly>...",
	Short: "Load, write and reload assemblies",
	Long: `Load each assembly, write it back without changes, reload the result and
compare the metadata. Tables whose rows were re-encoded are reported; a
table that lost or gained rows fails the command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoundtrip,
}

type roundtripResult struct {
	path    string
	in, out int
	rows    []string
	changed []string
	heaps   []string
}

func (r roundtripResult) ok() bool { return len(r.rows) == 0 }

func runRoundtrip(cmd *cobra.Command, args []string) error {
	opts, dir, err := moduleOptions(args...)
	if err != nil {
		return err
	}
	defer dir.Close()

	if roundtripWriteDir != "" {
		if err := os.MkdirAll(roundtripWriteDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", roundtripWriteDir, err)
		}
	}

	results, err := batch.Modules(cmd.Context(), args, cfg.Parallelism, roundtripModule, opts...)
	if err != nil {
		return err
	}

	st := newStyles()
	failed := 0
	for _, r := range results {
		size := fmt.Sprintf("%s -> %s", humanize.Bytes(uint64(r.in)), humanize.Bytes(uint64(r.out)))
		if !r.ok() {
			failed++
			fmt.Fprintf(output, "%s %s (%s): row counts differ in %s\n", st.err.Render("FAIL"), r.path, size, strings.Join(r.rows, ", "))
			continue
		}
		fmt.Fprintf(output, "%s %s (%s)\n", st.token.Render("ok"), r.path, size)
		if len(r.changed) > 0 {
			fmt.Fprintf(output, "     re-encoded tables: %s\n", strings.Join(r.changed, ", "))
		}
		if len(r.heaps) > 0 {
			fmt.Fprintf(output, "     re-encoded heaps: %s\n", strings.Join(r.heaps, ", "))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d assemblies did not survive the round trip", failed, len(results))
	}
	return nil
}

func roundtripModule(ctx context.Context, path string, m *model.Module) (roundtripResult, error) {
	r := roundtripResult{path: path, in: len(m.Image().Bytes())}
	before := m.Tables()

	data, err := m.Encode(ctx, model.WriteOptions{PreserveHeapSizes: roundtripPreserve})
	if err != nil {
		return r, fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.out = len(data)
	if roundtripWriteDir != "" {
		dst := filepath.Join(roundtripWriteDir, filepath.Base(path))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return r, fmt.Errorf("failed to save %s: %w", dst, err)
		}
	}

	back, err := model.Load(ctx, data)
	if err != nil {
		return r, fmt.Errorf("failed to reload %s: %w", path, err)
	}
	defer back.Close()
	compareStores(&r, before, back.Tables())
	logger.Debug("round trip compared",
		zap.String("path", path),
		zap.Int("changed_tables", len(r.changed)),
		zap.Bool("ok", r.ok()))
	return r, nil
}

func compareStores(r *roundtripResult, a, b *metadata.TableStore) {
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		if !t.Valid() {
			continue
		}
		switch {
		case a.RowCount(t) != b.RowCount(t):
			r.rows = append(r.rows, fmt.Sprintf("%s (%d -> %d)", t, a.RowCount(t), b.RowCount(t)))
		case !bytes.Equal(a.TableBytes(t), b.TableBytes(t)):
			r.changed = append(r.changed, t.String())
		}
	}
	heaps := []struct {
		name string
		a, b []byte
	}{
		{metadata.StreamStrings, heapBytes(a.Strings), heapBytes(b.Strings)},
		{metadata.StreamBlob, heapBytes(a.Blobs), heapBytes(b.Blobs)},
		{metadata.StreamGUID, heapBytes(a.GUIDs), heapBytes(b.GUIDs)},
		{metadata.StreamUserStrings, heapBytes(a.UserStrings), heapBytes(b.UserStrings)},
	}
	for _, h := range heaps {
		if !bytes.Equal(h.a, h.b) {
			r.heaps = append(r.heaps, h.name)
		}
	}
}

type byteHeap interface {
	comparable
	Bytes() []byte
}

// heapBytes returns the raw heap, or nil when the stream is absent.
func heapBytes[H byteHeap](h H) []byte {
	var zero H
	if h == zero {
		return nil
	}
	return h.Bytes()
}
