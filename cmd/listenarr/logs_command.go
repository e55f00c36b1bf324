package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"listenarr/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := fetchLogs(ctx, cmd, int64(-1), lines, 0)
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !follow {
				return nil
			}
			offset := result.Offset
			for {
				result, err := fetchLogs(ctx, cmd, offset, 0, 5000)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				offset = result.Offset
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	return cmd
}

func fetchLogs(ctx *commandContext, cmd *cobra.Command, offset int64, limit, waitMillis int) (logs.TailResult, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if waitMillis > 0 {
		values.Set("wait_ms", strconv.Itoa(waitMillis))
	}
	var result logs.TailResult
	err := ctx.getJSON(cmd.Context(), "/api/v1/logs?"+values.Encode(), &result)
	return result, err
}
