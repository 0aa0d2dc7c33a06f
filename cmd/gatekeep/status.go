// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// CheckStatus is the result of one health check.
type CheckStatus struct {
	Check   string `json:"check"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type statusOptions struct {
	jsonOutput bool
	timeout    time.Duration
}

func newStatusCmd(state *cli) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running gatekeep server",
		Long: `Query the liveness and readiness checks of a running gatekeep server
on its metrics address and report whether it is healthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, state, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "timeout per check")

	return cmd
}

func runStatus(cmd *cobra.Command, state *cli, opts *statusOptions) error {
	addr := state.Config.Metrics.Addr
	if addr == "" {
		return oops.Code("STATUS_UNAVAILABLE").Errorf("metrics address is disabled; nothing to query")
	}

	client := &http.Client{Timeout: opts.timeout}
	statuses := []CheckStatus{
		queryCheck(cmd.Context(), client, "http://"+addr+"/healthz/liveness", "liveness"),
		queryCheck(cmd.Context(), client, "http://"+addr+"/healthz/readiness", "readiness"),
	}

	if opts.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(statuses))
	}

	for _, s := range statuses {
		if !s.Healthy {
			return oops.Code("STATUS_UNHEALTHY").With("check", s.Check).Errorf("%s check failed: %s", s.Check, s.Detail)
		}
	}
	return nil
}

func queryCheck(ctx context.Context, client *http.Client, url, name string) CheckStatus {
	status := CheckStatus{Check: name}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Detail = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // body is informational
	status.Detail = strings.TrimSpace(string(body))
	status.Healthy = resp.StatusCode == http.StatusOK
	return status
}

func formatStatusTable(statuses []CheckStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, s := range statuses {
		state := "healthy"
		if !s.Healthy {
			state = "unhealthy"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Check, state, s.Detail)
	}

	_ = w.Flush()
	return sb.String()
}
