package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func newIngestCommand(a *app) *cobra.Command {
	var (
		isNew bool
		move  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <ownerType> <ownerKey> <field>=<path>...",
		Short: "Store local files as attachments of an owner",
		Long: `Store local files as attachments of an owner.

Files are copied and left in place unless --move is given. A one-valued
field keeps the last file named for it.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerKey, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid owner key %q: %w", args[1], err)
			}
			payload, err := parsePayload(args[2:], move)
			if err != nil {
				return err
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Save(cmd.Context(), simpleimage.OwnerRef{Type: args[0], Key: ownerKey, New: isNew}, payload)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, att := range res.Created {
				u, _ := svc.URL(cmd.Context(), att, "")
				fmt.Fprintf(out, "created %d %s %s %s\n", att.ID, att.Field, att.Filename, u)
			}
			for _, att := range res.Superseded {
				fmt.Fprintf(out, "replaced %d %s %s\n", att.ID, att.Field, att.Filename)
			}
			return res.Report.Err()
		},
	}

	cmd.Flags().BoolVar(&isNew, "new", false, "the owner is being created")
	cmd.Flags().BoolVar(&move, "move", false, "move the files into storage instead of copying")
	return cmd
}

func parsePayload(args []string, move bool) (simpleimage.Payload, error) {
	payload := simpleimage.Payload{}
	for _, arg := range args {
		field, path, ok := strings.Cut(arg, "=")
		if !ok || field == "" || path == "" {
			return nil, fmt.Errorf("invalid upload %q, want <field>=<path>", arg)
		}
		u := simpleimage.Upload{OriginalName: filepath.Base(path)}
		if move {
			u.TempPath = path
		} else {
			u.LocalPath = path
		}
		payload[field] = append(payload[field], u)
	}
	return payload, nil
}
