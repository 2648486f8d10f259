package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/model"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <assembly> <token>...",
	Short: "Describe metadata tokens",
	Long: `Describe the declaration behind each token. Type and member references
are followed into the assemblies that define them, searched next to the
input and in the configured search paths.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, done, err := openModule(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()

	st := newStyles()
	for _, arg := range args[1:] {
		tok, err := metadata.ParseToken(arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "%s %s\n", st.token.Render(tok.String()), m.FormatToken(tok))
		d, err := m.Resolve(tok)
		if err != nil {
			fmt.Fprintf(output, "  %s\n", st.err.Render(err.Error()))
			continue
		}
		def, err := definition(ctx, d)
		switch {
		case err != nil:
			fmt.Fprintf(output, "  %s\n", st.err.Render(err.Error()))
		case def != nil:
			fmt.Fprintf(output, "  -> [%s] %s %s\n", st.name.Render(def.Module().Name()), def.Token(), def.Module().FormatToken(def.Token()))
		}
	}
	return nil
}

// definition follows a reference to the declaration it names. It returns
// nil for declarations that are already definitions.
func definition(ctx context.Context, d model.Declaration) (model.Declaration, error) {
	m := d.Module()
	switch v := d.(type) {
	case *model.TypeRef:
		td, err := m.ResolveTypeRef(ctx, v)
		if err != nil || td == nil {
			return nil, err
		}
		return td, nil
	case *model.MemberRef:
		switch v.Parent.Table() {
		case metadata.TableTypeDef, metadata.TableTypeRef:
		default:
			// TODO: follow members of generic instantiations through the
			// TypeSpec's generic type definition.
			return nil, nil
		}
		owner, err := m.ResolveType(ctx, v.Parent)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			return nil, nil
		}
		if v.IsField() {
			f, err := owner.FindField(v.Name)
			if err != nil || f == nil {
				return nil, err
			}
			return f, nil
		}
		md, err := model.MethodComparer{}.FindMethod(owner, v.Name, m, v.MethodSig)
		if err != nil || md == nil {
			return nil, err
		}
		return md, nil
	case *model.MethodSpec:
		inner, err := m.Resolve(v.Method)
		if err != nil {
			return nil, err
		}
		if _, ok := inner.(*model.MemberRef); ok {
			return definition(ctx, inner)
		}
		return inner, nil
	}
	return nil, nil
}
