package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change stored settings",
	}
	cmd.AddCommand(settingsListCmd())
	cmd.AddCommand(settingsSetCmd())
	cmd.AddCommand(settingsUnsetCmd())
	return cmd
}

type settingView struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Stored bool   `json:"stored"`
}

func settingsListCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List effective settings; stored values override the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.Settings.Load(ctx)
			if err != nil {
				return err
			}
			stored, err := svc.SettingsDB.All(ctx)
			if err != nil {
				return err
			}
			inDB := make(map[string]bool, len(stored))
			for _, s := range stored {
				inDB[s.Key] = true
			}

			views := make([]settingView, 0, len(settings.Keys))
			for _, key := range settings.Keys {
				v := st.Value(key)
				if settings.IsSecret(key) && !reveal {
					v = settings.Mask(v)
				}
				views = append(views, settingView{Key: key, Value: v, Stored: inDB[key]})
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSOURCE\tVALUE")
			for _, v := range views {
				source := "env"
				if v.Stored {
					source = "db"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Key, source, truncate(v.Value, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets unmasked")
	return cmd
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set [key] [value]",
		Short:   "Store a setting",
		Example: "  paperless-ai settings set default_tag_id 7\n  paperless-ai settings set auto_update_metadata true",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Settings.Set(ctx, args[0], args[1]); err != nil {
				return err
			}
			shown := args[1]
			if settings.IsSecret(args[0]) {
				shown = settings.Mask(shown)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], shown)
			return nil
		},
	}
}

func settingsUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset [key]",
		Short: "Remove a stored setting so the environment value applies again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			v := common.NewValidator()
			v.Field("key", key, common.OneOf(settings.Keys...))
			if err := v.Error(); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.SettingsDB.Delete(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", key)
			return nil
		},
	}
}
