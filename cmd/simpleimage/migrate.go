package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or drop the attachment table",
	}

	run := func(name string, fn func(cmd *cobra.Command, svc *config.Service) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: name + " the attachment schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				defer svc.Close()
				if svc.Migrator == nil {
					return errNoSchema
				}
				return fn(cmd, svc)
			},
		}
	}

	cmd.AddCommand(
		run("up", func(cmd *cobra.Command, svc *config.Service) error {
			if err := svc.Migrator.Up(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s is up to date\n", a.cfg.Table)
			return nil
		}),
		run("down", func(cmd *cobra.Command, svc *config.Service) error {
			if err := svc.Migrator.Down(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s dropped\n", a.cfg.Table)
			return nil
		}),
		run("version", func(cmd *cobra.Command, svc *config.Service) error {
			v, err := svc.Migrator.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		}),
	)
	return cmd
}
