package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/capturekit/server/internal/captures"
	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/session"
)

func NewStartCmd(deps *Dependencies) *cobra.Command {
	var (
		req    captures.StartRequest
		region string
		sid    int64
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a capture session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if region != "" {
				r, err := models.ParseRegion(region)
				if err != nil {
					return err
				}
				req.Region = &r
			}
			if cmd.Flags().Changed("sid") {
				req.SID = &sid
			}
			client, err := deps.client()
			if err != nil {
				return err
			}
			var s session.Session
			if err := client.Do(cmd.Context(), http.MethodPost, "/api/captures/start", req, &s); err != nil {
				return err
			}
			deps.formatter().Success(fmt.Sprintf("Recording %s to %s", s.ID, s.Record.RelPath()))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "session id (generated when empty)")
	cmd.Flags().StringVarP(&req.Project, "project", "p", "", "project name")
	cmd.Flags().StringVarP(&req.Feature, "feature", "f", "", "feature name")
	cmd.Flags().StringVarP(&req.Scenario, "scenario", "s", "", "scenario name")
	cmd.Flags().Int64Var(&sid, "sid", 0, "scenario id")
	cmd.Flags().StringVarP(&req.Description, "description", "d", "", "free text description")
	cmd.Flags().StringVarP(&region, "region", "r", "", "screen region as WIDTHxHEIGHT+X+Y")
	cmd.Flags().StringToStringVarP(&req.Meta, "meta", "m", nil, "extra metadata, key=value")

	return cmd
}

func NewFinishCmd(deps *Dependencies) *cobra.Command {
	var req captures.FinishRequest
	cmd := &cobra.Command{
		Use:   "finish <id>",
		Short: "Finish a capture session with a test status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			var sum models.VideoSummary
			if err := client.Do(cmd.Context(), http.MethodPost, "/api/captures/"+PathID(args[0])+"/finish", req, &sum); err != nil {
				return err
			}
			deps.formatter().Success(fmt.Sprintf("Saved %s (%s)", sum.ID, sum.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Status, "status", models.StatusPass, "test status: PASS, FAIL, ERROR or OTHER")
	cmd.Flags().StringVarP(&req.Description, "description", "d", "", "replaces the description given at start")
	cmd.Flags().StringVarP(&req.Error, "error", "e", "", "error message of a failed test")
	cmd.Flags().StringVar(&req.StackTrace, "stack-trace", "", "stack trace of a failed test")
	cmd.Flags().StringToStringVarP(&req.Meta, "meta", "m", nil, "extra metadata, key=value")

	return cmd
}

func NewListCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			var list []models.VideoSummary
			if err := client.Do(cmd.Context(), http.MethodGet, "/api/captures", nil, &list); err != nil {
				return err
			}
			formatter := deps.formatter()
			if len(list) == 0 {
				formatter.Info("No videos found")
				return nil
			}
			formatter.VideoTable(list)
			return nil
		},
	}

	return cmd
}

func NewGetCmd(deps *Dependencies) *cobra.Command {
	var maskAll bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a recorded video with its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			path := "/api/captures/" + PathID(args[0])
			if maskAll {
				path += "?mask=all"
			}
			var v models.Video
			if err := client.Do(cmd.Context(), http.MethodGet, path, nil, &v); err != nil {
				return err
			}
			return deps.formatter().JSON(v)
		},
	}

	cmd.Flags().BoolVar(&maskAll, "mask-all", false, "hide every meta value")

	return cmd
}

func NewDeleteCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded video and its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.client()
			if err != nil {
				return err
			}
			if err := client.Do(cmd.Context(), http.MethodDelete, "/api/captures/"+PathID(args[0]), nil, nil); err != nil {
				return err
			}
			deps.formatter().Success("Deleted " + args[0])
			return nil
		},
	}

	return cmd
}
