package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/status"
)

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorder and upload status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			var st status.CombinedStatus
			if err := client.Do(cmd.Context(), http.MethodGet, "/api", nil, &st); err != nil {
				return err
			}
			formatter := deps.formatter()
			if asJSON {
				return formatter.JSON(st)
			}
			if !st.Recording {
				formatter.Info("Not recording")
			}
			for _, s := range st.Engine.Sessions {
				formatter.Info(fmt.Sprintf("%s %s for %.0fs in %s", s.ID, s.State, s.ElapsedSeconds, s.Folder))
			}
			formatter.Info(fmt.Sprintf("Uploads: %d scheduled, %d uploading, %d finished, %d failed",
				st.Uploads.Scheduled, st.Uploads.Uploading, st.Uploads.Finished, st.Uploads.Failed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full status document")

	return cmd
}

func NewUploadCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <id>",
		Short: "Schedule a recorded video for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			var st models.UploadStatus
			if err := client.Do(cmd.Context(), http.MethodPost, "/api/captures/"+PathID(args[0])+"/upload", nil, &st); err != nil {
				return err
			}
			deps.formatter().Success(fmt.Sprintf("Upload of %s is %s", st.ID, st.State))
			return nil
		},
	}

	return cmd
}

func NewUploadsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List upload states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			var list []models.UploadStatus
			if err := client.Do(cmd.Context(), http.MethodGet, "/api/uploads", nil, &list); err != nil {
				return err
			}
			formatter := deps.formatter()
			if len(list) == 0 {
				formatter.Info("No uploads")
				return nil
			}
			formatter.UploadTable(list)
			return nil
		},
	}

	return cmd
}
