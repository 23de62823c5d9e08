// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
)

// execute runs one genflow invocation with args and releases everything
// it acquired, whether or not the command succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, stdin io.Reader) error {
	a := newApp(stdout, stderr, stdin)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

// newRootCmd builds the full command tree bound to a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "genflow",
		Short: "Command-line console for the GenFlow prediction platform",
		Long: `genflow manages datasets, prompts, predictions and models on a GenFlow
backend. The session token is kept between invocations so you only
need to log in once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetIn(a.stdin)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default $GENFLOW_CONFIG or ~/.genflow/genflow.yaml)")
	pf.StringVarP(&a.flags.output, "output", "o", "", "output style: full, minimal or machine (default: detect)")
	pf.StringVar(&a.flags.baseURL, "api", "", "override the API base URL")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.StringVar(&a.flags.trace, "trace", "", "trace exporter: otlp, stdout or none")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newSessionCmd(a),
		newDashboardCmd(a),
		newDatasetsCmd(a),
		newPromptsCmd(a),
		newPredictionsCmd(a),
		newJobsCmd(a),
		newModelsCmd(a),
		newAdminCmd(a),
		newRouteCmd(a),
	)
	return root
}
