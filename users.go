package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"toolshare/internal/recordapi"
)

// newUsersCmd talks to a running record API server.
func newUsersCmd(flags *rootFlags) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List or create user records through the record API",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", "", "record API base URL (default http://localhost:<server.port>)")

	client := func() (*recordapi.Client, error) {
		if apiURL != "" {
			return recordapi.NewClient(apiURL, nil), nil
		}
		cfg, err := flags.load()
		if err != nil {
			return nil, err
		}
		return recordapi.NewClient(fmt.Sprintf("http://localhost:%d", cfg.Server.Port), nil), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every user record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			users, err := c.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-38s %-20s %-30s\n", "ID", "Name", "Email")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for _, u := range users {
				fmt.Fprintf(out, "%-38s %-20s %-30s\n", u.ID, truncateString(u.Name, 20), u.Email)
			}
			return nil
		},
	})

	var name, email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			u, err := c.CreateUser(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %q created with ID %s\n", u.Name, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&email, "email", "", "email address")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")
	cmd.AddCommand(add)

	return cmd
}
