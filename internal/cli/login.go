package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/capturekit/server/internal/auth"
	"github.com/capturekit/server/pkg/utils"
)

func NewLoginCmd(deps *Dependencies) *cobra.Command {
	var req auth.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the token for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("CAPTURECTL_PASSWORD")
			}
			if req.Username == "" || req.Password == "" {
				return errors.New("username and password are required (--password or CAPTURECTL_PASSWORD)")
			}
			client := NewClient(deps.Server, "", deps.HTTP)
			var tok auth.TokenResponse
			if err := client.Do(cmd.Context(), http.MethodPost, "/auth/login", req, &tok); err != nil {
				return err
			}
			if err := SaveToken(deps.TokenFile, tok.Token); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}
			deps.formatter().Success(fmt.Sprintf("Logged in as %s (%s) until %s", tok.Username, tok.Role, tok.ExpiresAt.Local().Format("2006-01-02 15:04")))
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "admin", "account name")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")

	return cmd
}

// NewHashPasswordCmd prints a bcrypt hash for AUTH_PASSWORD_HASH. It does not contact the server.
func NewHashPasswordCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for the server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashPassword(args[0])
			if err != nil {
				return err
			}
			out := deps.Out
			if out == nil {
				out = os.Stdout
			}
			_, err = fmt.Fprintln(out, hash)
			return err
		},
	}

	return cmd
}
