package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/promptgen"
)

func newPromptCommand() *cobra.Command {
	var (
		format          string
		includeSchemas  bool
		includeExamples bool
	)

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Generate the system prompt describing every registered module and action",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			f := promptgen.FormatText
			if format == "json" {
				f = promptgen.FormatJSON
			}

			out, err := app.Prompts.Generate(cmd.Context(), promptgen.Options{
				Format:            f,
				PermissionProfile: permissionProfileName(app.Profile),
				IncludeSchemas:    includeSchemas,
				IncludeExamples:   includeExamples,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVar(&includeSchemas, "include-schemas", true, "inline each action's full params JSON schema")
	cmd.Flags().BoolVar(&includeExamples, "include-examples", false, "include few-shot examples where providers supply them")

	return cmd
}
