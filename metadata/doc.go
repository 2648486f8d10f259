// Package metadata implements the ECMA-335 physical metadata layer: table
// ordinals and the column schema, tokens, the four heaps, the metadata root,
// a TableStore that decodes the tables stream in one forward pass, and a
// TableBuilder that re-encodes rows once final row counts are known.
//
// Column widths depend on row counts of other tables and on heap sizes, so
// they are always derived from a Sizes value rather than stored per column.
//
//	ts, err := metadata.Load(ctx, md, base)
//	row, err := ts.ReadRow(metadata.TableTypeDef, 2)
//	name, err := ts.Strings.Get(row[1])
package metadata
