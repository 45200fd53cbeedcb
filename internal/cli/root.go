// Package cli implements capturectl, a command line client for the capture server.
package cli

import (
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

type Dependencies struct {
	Server    string
	TokenFile string
	Version   string
	HTTP      *http.Client
	Out       io.Writer
}

// client builds an API client with the saved token, if any.
func (d *Dependencies) client() (*Client, error) {
	token, err := LoadToken(d.TokenFile)
	if err != nil {
		return nil, err
	}
	return NewClient(d.Server, token, d.HTTP), nil
}

func (d *Dependencies) formatter() *Formatter {
	if d.Out == nil {
		return NewFormatter(os.Stdout)
	}
	return NewFormatter(d.Out)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "capturectl",
		Short:         "Drive screen captures on a capture server",
		Long:          "capturectl starts and finishes screen capture sessions, browses recorded videos and schedules uploads through the capture server API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = deps.Version

	serverDefault := os.Getenv("CAPTURECTL_SERVER")
	if serverDefault == "" {
		serverDefault = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&deps.Server, "server", serverDefault, "capture server base URL")
	rootCmd.PersistentFlags().StringVar(&deps.TokenFile, "token-file", DefaultTokenFile(), "where the login token is kept")

	rootCmd.AddCommand(NewLoginCmd(deps))
	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewFinishCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewGetCmd(deps))
	rootCmd.AddCommand(NewDeleteCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewUploadCmd(deps))
	rootCmd.AddCommand(NewUploadsCmd(deps))
	rootCmd.AddCommand(NewHashPasswordCmd(deps))

	return rootCmd
}
