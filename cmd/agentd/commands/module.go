package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModuleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "List registered capability providers and their manifests",
	}
	cmd.AddCommand(newModuleListCommand())
	cmd.AddCommand(newModuleManifestCommand())
	return cmd
}

func newModuleListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every registered module id",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			for _, id := range app.Registry.ModuleIDs() {
				fmt.Println(id)
			}
			return nil
		},
	}
	return cmd
}

func newModuleManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest [module_id]",
		Short: "Print one module's manifest, or every registered manifest if module_id is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			manifests := app.Registry.ListManifests(cmd.Context())
			if len(args) == 0 {
				return printJSON(manifests)
			}
			for _, m := range manifests {
				if m.ModuleID == args[0] {
					return printJSON(m)
				}
			}
			return fmt.Errorf("module %q is not registered", args[0])
		},
	}
	return cmd
}
