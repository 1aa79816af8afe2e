package main

import (
	"github.com/spf13/cobra"
)

// getUsersCommand returns the users command
func getUsersCommand() *cobra.Command {
	var users userFlags

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the lab users a batch would log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := formatter()
			if err != nil {
				return err
			}
			ids, err := users.ids()
			if err != nil {
				return err
			}

			text, err := f.Format(ids)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), text)
			return nil
		},
	}

	users.register(cmd)

	return cmd
}
