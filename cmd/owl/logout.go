package main

import (
	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/credentials"
)

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the API key saved in the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := credentials.NewKeychain().Delete(); err != nil {
				return err
			}

			console.New(a.out).Println("Removed the saved API key from the OS keychain.")
			return nil
		},
	}
}
