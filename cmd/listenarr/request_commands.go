package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"listenarr/internal/api"
)

func newRequestsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"request", "req"},
		Short:   "Manage fulfillment requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newRequestListCommand(ctx))
	cmd.AddCommand(newRequestAddCommand(ctx))
	cmd.AddCommand(newRequestShowCommand(ctx))
	cmd.AddCommand(newRequestVerbCommand(ctx, "approve", "Release a request awaiting approval"))
	cmd.AddCommand(newRequestVerbCommand(ctx, "deny", "Reject a request awaiting approval"))
	cmd.AddCommand(newRequestVerbCommand(ctx, "cancel", "Withdraw an active request"))
	return cmd
}

func newRequestListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/requests"
			if len(statuses) > 0 {
				values := url.Values{}
				for _, status := range statuses {
					values.Add("status", status)
				}
				path += "?" + values.Encode()
			}
			var response api.RequestListResponse
			if err := ctx.getJSON(cmd.Context(), path, &response); err != nil {
				return err
			}
			if len(response.Requests) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no requests")
				return nil
			}
			rows := make([][]string, 0, len(response.Requests))
			for _, request := range response.Requests {
				rows = append(rows, []string{
					strconv.FormatInt(request.ID, 10),
					request.Title,
					request.Author,
					request.MediaType,
					request.Status,
					fmt.Sprintf("%d%%", request.Progress),
					request.UserName,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "TITLE", "AUTHOR", "TYPE", "STATUS", "PROGRESS", "USER"}, rows, 1, 6))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newRequestAddCommand(ctx *commandContext) *cobra.Command {
	var input api.CreateRequestInput
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a new request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Title = strings.TrimSpace(args[0])
			var view api.RequestView
			if err := ctx.postJSON(cmd.Context(), "/api/v1/requests", input, &view); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %d created (%s)\n", view.ID, view.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Author, "author", "", "Author name")
	cmd.Flags().StringVar(&input.ASIN, "asin", "", "Audible ASIN")
	cmd.Flags().StringVar(&input.UserName, "user", "", "Requesting user")
	cmd.Flags().StringVar(&input.MediaType, "media", "", "Media type (audiobook or ebook)")
	cmd.Flags().StringVar(&input.CoverURL, "cover", "", "Cover art URL")
	return cmd
}

func newRequestShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			var view api.RequestView
			if err := ctx.getJSON(cmd.Context(), fmt.Sprintf("/api/v1/requests/%d", id), &view); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %d\n", view.ID)
			fmt.Fprintf(out, "Title:     %s\n", view.Title)
			if view.Author != "" {
				fmt.Fprintf(out, "Author:    %s\n", view.Author)
			}
			if view.ASIN != "" {
				fmt.Fprintf(out, "ASIN:      %s\n", view.ASIN)
			}
			fmt.Fprintf(out, "Type:      %s\n", view.MediaType)
			fmt.Fprintf(out, "Status:    %s\n", view.Status)
			fmt.Fprintf(out, "Progress:  %d%%\n", view.Progress)
			if view.UserName != "" {
				fmt.Fprintf(out, "User:      %s\n", view.UserName)
			}
			if view.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     %s\n", view.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:   %s\n", view.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if view.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", view.CompletedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newRequestVerbCommand(ctx *commandContext, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/v1/requests/%d/%s", id, verb)
			if err := ctx.postJSON(cmd.Context(), path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %d: %s\n", id, verb)
			return nil
		},
	}
}

func parseRequestID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", value)
	}
	return id, nil
}
