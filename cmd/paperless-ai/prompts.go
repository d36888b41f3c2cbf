package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/server"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

func promptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage prompt configurations",
	}
	cmd.AddCommand(promptsListCmd())
	cmd.AddCommand(promptsShowCmd())
	cmd.AddCommand(promptsSaveCmd())
	cmd.AddCommand(promptsActivateCmd())
	cmd.AddCommand(promptsDeleteCmd())
	return cmd
}

func promptsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored prompt configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			prompts, err := svc.Prompts.List(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), prompts)
			}
			if len(prompts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No prompt configurations stored; the built-in default is used.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTIVE\tJSON MODE\tUPDATED")
			for _, p := range prompts {
				active := ""
				if p.IsActive {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, active, p.JSONMode, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func promptsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Print a configuration as YAML (the active one, or the default, without a name)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			var tpl *entity.PromptTemplate
			if len(args) == 1 {
				tpl, err = svc.Prompts.GetByName(ctx, args[0])
			} else {
				tpl, err = svc.Prompts.Active(ctx)
			}
			if err != nil {
				return err
			}
			if tpl == nil {
				def := entity.DefaultPromptTemplate()
				tpl = &def
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), tpl)
			}
			return llm.EncodeTemplateYAML(cmd.OutOrStdout(), *tpl)
		},
	}
}

func promptsSaveCmd() *cobra.Command {
	var (
		file     string
		name     string
		activate bool
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a configuration from a YAML file",
		Example: "  paperless-ai prompts show > mine.yaml   # edit, then\n" +
			"  paperless-ai prompts save -f mine.yaml --name mine --activate",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			tpl, err := llm.DecodeTemplateYAML(data, name)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			saved, err := svc.Prompts.Save(ctx, &tpl)
			if err != nil {
				return err
			}
			if activate {
				if err := activatePrompt(cmd, svc, saved.Name); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved prompt configuration %q\n", saved.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "YAML file ('-' reads stdin)")
	cmd.Flags().StringVar(&name, "name", "", "override the name in the file")
	cmd.Flags().BoolVar(&activate, "activate", false, "make it the active configuration")
	return cmd
}

func promptsActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate [name]",
		Short: "Use this configuration for new processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			return activatePrompt(cmd, svc, args[0])
		},
	}
}

// activatePrompt marks the configuration active and records it in the
// active_prompt setting, which takes precedence over the flag.
func activatePrompt(cmd *cobra.Command, svc *server.Services, name string) error {
	ctx := cmd.Context()
	if err := svc.Prompts.Activate(ctx, name); err != nil {
		return err
	}
	if err := svc.Settings.Set(ctx, settings.KeyActivePrompt, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active prompt configuration: %s\n", name)
	return nil
}

func promptsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Prompts.Delete(ctx, args[0]); err != nil {
				return err
			}
			st, err := svc.Settings.Load(ctx)
			if err != nil {
				return err
			}
			if st.ActivePrompt == args[0] {
				if err := svc.SettingsDB.Delete(ctx, settings.KeyActivePrompt); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted prompt configuration %q\n", args[0])
			return nil
		},
	}
}
