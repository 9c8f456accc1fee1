package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/settings"
)

var tokenRoles []string

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token carrying roles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.Read(v, cfgFile); err != nil {
			return err
		}
		secret := v.GetString("jwtsecret")
		if secret == "" {
			return errors.New("no jwtsecret configured")
		}
		tok, err := auth.Sign(secret, args[0], tokenRoles)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVarP(&tokenRoles, "roles", "r", nil, "roles granted by the token")
}
