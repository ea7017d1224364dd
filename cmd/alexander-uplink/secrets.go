package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prn-tf/alexander-uplink/internal/pkg/crypto"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
	"github.com/prn-tf/alexander-uplink/internal/session"
)

func newSecretsCmd(a *app) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Read and write entries of the secret store",
		Long: `Read and write entries of the configured secret store.

Static credentials live under the secret id "static" with the fields
access_key_id, secret_access_key and optionally session_token.`,
	}
	cmd.PersistentFlags().StringVar(&provider, "provider", session.ProviderID, "provider namespace")

	set := &cobra.Command{
		Use:   "set <secret-id> <field> [value]",
		Short: "Store a value, prompting for it when omitted",
		Args:  rangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 3 {
				value = args[2]
			} else {
				v, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), args[1])
				if err != nil {
					return err
				}
				value = v
			}

			store, err := a.secretStore(cmd.Context())
			if err != nil {
				return err
			}
			return store.Set(cmd.Context(), provider, args[0], args[1], value)
		},
	}

	get := &cobra.Command{
		Use:   "get <secret-id> <field>",
		Short: "Print a stored value",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.secretStore(cmd.Context())
			if err != nil {
				return err
			}
			value, err := secretstore.GetRequired(cmd.Context(), store, provider, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <secret-id>",
		Short: "Remove every field of a secret",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.secretStore(cmd.Context())
			if err != nil {
				return err
			}
			return store.Delete(cmd.Context(), provider, args[0])
		},
	}

	keygen := &cobra.Command{
		Use:         "keygen",
		Short:       "Print a random key for secrets.encryption_key",
		Args:        exactArgs(0),
		Annotations: map[string]string{noConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.AddCommand(set, get, del, keygen)
	return cmd
}

// readSecret reads a value without echo from a terminal, or the first line
// of in otherwise.
func readSecret(in io.Reader, prompt io.Writer, field string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "%s: ", field)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", field, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return strings.TrimSpace(line), nil
}
