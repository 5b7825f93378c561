package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Out, cc.Cfg)
			}

			return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.Out)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with every default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			created, err := config.CreateDefault(cc.CfgPath)
			if err != nil {
				return err
			}

			if !created {
				cc.Statusf("Config already exists at %s\n", cc.CfgPath)

				return nil
			}

			cc.Logger.Info("config created", "path", cc.CfgPath)
			cc.Statusf("Wrote %s\n", cc.CfgPath)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one key in the config file",
		Long: `Set one key in the config file, keeping its comments and layout. The
result is validated before it is written, so an invalid value leaves the
file unchanged. A running watch picks up the change on its own.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			if err := config.SetKey(cc.CfgPath, args[0], args[1]); err != nil {
				return err
			}

			cc.Logger.Info("config updated", "path", cc.CfgPath, "key", args[0])
			cc.Statusf("Set %s in %s\n", args[0], cc.CfgPath)

			return nil
		},
	}
}
