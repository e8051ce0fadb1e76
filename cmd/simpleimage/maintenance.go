package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

func newRegenerateCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "regenerate <ownerType>",
		Short: "Generate missing preset variants of an owner type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.Regenerate(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "regenerated %s (%d failures)\n", args[0], len(report.Errors()))
			return report.Err()
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rebuild variants that already exist")
	return cmd
}

func newDeleteOwnerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-owner <ownerType> <ownerKey>",
		Short: "Delete every attachment of an owner and reclaim its files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerKey, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid owner key %q: %w", args[1], err)
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.DeleteOwner(cmd.Context(), args[0], ownerKey)
			if err != nil {
				return err
			}
			for _, att := range res.Superseded {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d %s %s\n", att.ID, att.Field, att.Filename)
			}
			return res.Report.Err()
		},
	}
}

func newDeleteAttachmentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-attachment <id>",
		Short: "Delete one attachment and reclaim its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid attachment id %q: %w", args[0], err)
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			att, report, err := svc.DeleteAttachment(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d %s %s\n", att.ID, att.Field, att.Filename)
			return report.Err()
		},
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read at startup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usage)
			return nil
		},
	}
}
