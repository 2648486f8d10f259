package main

import (
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <assembly>",
	Short: "Disassemble an assembly to IL text",
	Long: `Print the manifest, types, members and method bodies of an assembly in
ILAsm-like text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openModule(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer done()
		return m.WriteText(cmd.Context(), output)
	},
}
