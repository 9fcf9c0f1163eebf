package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoleCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "ロールを表示する",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "ロールと付与された権限を一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, db, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			roles, err := store.ListRoles(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERMISSIONS\tDESCRIPTION")
			for _, r := range roles {
				perms := strings.Join(r.Permissions, ",")
				if perms == "" {
					perms = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, perms, r.Description)
			}
			return w.Flush()
		},
	})
	return cmd
}
