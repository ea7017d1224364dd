package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/session"
)

func newLoginCmd(a *app) *cobra.Command {
	var startURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to AWS IAM Identity Center with a device code",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSSO(); err != nil {
				return err
			}
			if startURL == "" {
				startURL = a.cfg.SSO.StartURL
			}

			ctx := cmd.Context()
			resolver, err := a.session(ctx)
			if err != nil {
				return err
			}

			if a.cfg.SSO.LoginTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.SSO.LoginTimeout)
				defer cancel()
			}

			token, err := resolver.Login(ctx, startURL, devicePrompt(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in, session valid until %s\n",
				time.Unix(token.ExpiresAt, 0).Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&startURL, "start-url", "", "override sso.start_url")
	return cmd
}

func devicePrompt(w io.Writer) session.PromptFunc {
	return func(d *domain.DeviceAuthorization) {
		if d.VerificationURIComplete != "" {
			fmt.Fprintf(w, "Open %s\nand confirm the code %s\n", d.VerificationURIComplete, d.UserCode)
			return
		}
		fmt.Fprintf(w, "Open %s\nand enter the code %s\n", d.VerificationURI, d.UserCode)
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the SSO token and cached role credentials",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := resolver.Logout(cmd.Context(), a.cfg.UploadConfig().SSO); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the AWS accounts available to the SSO session",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSSO(); err != nil {
				return err
			}
			resolver, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := resolver.Accounts(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT ID\tNAME\tEMAIL")
			for _, acct := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", acct.AccountID, acct.AccountName, acct.EmailAddress)
			}
			return tw.Flush()
		},
	}
}

func newRolesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roles <account-id>",
		Short: "List the roles the SSO session may assume in an account",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSSO(); err != nil {
				return err
			}
			resolver, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			roles, err := resolver.Roles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, role := range roles {
				fmt.Fprintln(cmd.OutOrStdout(), role.RoleName)
			}
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of stored credentials",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			st, err := resolver.Status(cmd.Context(), a.cfg.UploadConfig())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}
