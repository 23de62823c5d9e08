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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/genflow-console/pkg/api"
	"github.com/AleutianAI/genflow-console/pkg/jobs"
)

// =============================================================================
// Datasets
// =============================================================================

func newDatasetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "datasets",
		Aliases:           []string{"dataset", "ds"},
		Short:             "Manage datasets",
		PersistentPreRunE: a.chainGate("/datasets"),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.console.Resources.Datasets(cmd.Context())
			if err != nil {
				return failed("list datasets", err)
			}
			rows := make([][]string, 0, len(list))
			for _, d := range list {
				rows = append(rows, []string{fmt.Sprint(d.ID), d.Name, d.Description, d.CreatedAt})
			}
			a.printer.Table([]string{"ID", "NAME", "DESCRIPTION", "CREATED"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show one dataset and its prompts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			d, err := a.console.Resources.Dataset(cmd.Context(), id)
			if err != nil {
				return failed("get dataset", err)
			}
			prompts, err := a.console.Resources.PromptsByDataset(cmd.Context(), id)
			if err != nil {
				return failed("list dataset prompts", err)
			}
			a.printer.KV("id", fmt.Sprint(d.ID), "name", d.Name, "description", d.Description, "prompts", fmt.Sprint(len(prompts)))
			return nil
		},
	})

	var name, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.console.Resources.CreateDataset(cmd.Context(), api.DatasetCreate{Name: name, Description: description})
			if err != nil {
				return failed("create dataset", err)
			}
			a.printer.Success(fmt.Sprintf("Created dataset %d (%s)", d.ID, d.Name))
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "dataset name")
	create.Flags().StringVar(&description, "description", "", "dataset description")
	cmd.AddCommand(create)

	var newName, newDescription string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename or describe a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var req api.DatasetUpdate
			if cmd.Flags().Changed("name") {
				req.Name = &newName
			}
			if cmd.Flags().Changed("description") {
				req.Description = &newDescription
			}
			d, err := a.console.Resources.UpdateDataset(cmd.Context(), id, req)
			if err != nil {
				return failed("update dataset", err)
			}
			a.printer.Success(fmt.Sprintf("Updated dataset %d", d.ID))
			return nil
		},
	}
	update.Flags().StringVar(&newName, "name", "", "new name")
	update.Flags().StringVar(&newDescription, "description", "", "new description")
	cmd.AddCommand(update)

	cmd.AddCommand(deleteCmd(a, "dataset", func(ctx context.Context, id int64) error {
		return a.console.Resources.DeleteDataset(ctx, id)
	}))
	return cmd
}

// =============================================================================
// Prompts
// =============================================================================

func newPromptsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "prompts",
		Aliases:           []string{"prompt"},
		Short:             "Manage prompts",
		PersistentPreRunE: a.chainGate("/prompts"),
	}

	var datasetFilter int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List prompts, optionally for one dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []api.Prompt
				err  error
			)
			if datasetFilter > 0 {
				list, err = a.console.Resources.PromptsByDataset(cmd.Context(), datasetFilter)
			} else {
				list, err = a.console.Resources.Prompts(cmd.Context())
			}
			if err != nil {
				return failed("list prompts", err)
			}
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{fmt.Sprint(p.ID), p.Name, optionalID(p.DatasetID), truncate(p.Content, 48)})
			}
			a.printer.Table([]string{"ID", "NAME", "DATASET", "CONTENT"}, rows)
			return nil
		},
	}
	list.Flags().Int64Var(&datasetFilter, "dataset", 0, "only prompts of this dataset")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show one prompt",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.console.Resources.Prompt(cmd.Context(), id)
			if err != nil {
				return failed("get prompt", err)
			}
			a.printer.KV("id", fmt.Sprint(p.ID), "name", p.Name, "dataset", optionalID(p.DatasetID))
			a.printer.Box("Content", p.Content)
			return nil
		},
	})

	var name, content string
	var datasetID int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.PromptCreate{Name: name, Content: content}
			if datasetID > 0 {
				req.DatasetID = &datasetID
			}
			p, err := a.console.Resources.CreatePrompt(cmd.Context(), req)
			if err != nil {
				return failed("create prompt", err)
			}
			a.printer.Success(fmt.Sprintf("Created prompt %d (%s)", p.ID, p.Name))
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "prompt name")
	create.Flags().StringVar(&content, "content", "", "prompt text")
	create.Flags().Int64Var(&datasetID, "dataset", 0, "dataset to attach the prompt to")
	cmd.AddCommand(create)

	cmd.AddCommand(deleteCmd(a, "prompt", func(ctx context.Context, id int64) error {
		return a.console.Resources.DeletePrompt(ctx, id)
	}))
	return cmd
}

// =============================================================================
// Predictions and Jobs
// =============================================================================

func newPredictionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "predictions",
		Aliases:           []string{"prediction", "pred"},
		Short:             "Run prompts and inspect results",
		PersistentPreRunE: a.chainGate("/predictions"),
	}

	var promptFilter int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List predictions, optionally for one prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []api.Prediction
				err  error
			)
			if promptFilter > 0 {
				list, err = a.console.Resources.PredictionsByPrompt(cmd.Context(), promptFilter)
			} else {
				list, err = a.console.Resources.Predictions(cmd.Context())
			}
			if err != nil {
				return failed("list predictions", err)
			}
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{fmt.Sprint(p.ID), fmt.Sprint(p.PromptID), a.printer.Status(p.Status), optionalID(p.JobID)})
			}
			a.printer.Table([]string{"ID", "PROMPT", "STATUS", "JOB"}, rows)
			return nil
		},
	}
	list.Flags().Int64Var(&promptFilter, "prompt", 0, "only predictions of this prompt")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show one prediction and its result",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.console.Resources.Prediction(cmd.Context(), id)
			if err != nil {
				return failed("get prediction", err)
			}
			printPrediction(a, p)
			return nil
		},
	})

	var promptID, modelID int64
	var watch bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Queue a prediction for a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.PredictionCreate{PromptID: promptID}
			if modelID > 0 {
				req.ModelID = &modelID
			}
			p, err := a.console.Resources.CreatePrediction(cmd.Context(), req)
			if err != nil {
				return failed("create prediction", err)
			}
			a.printer.Success(fmt.Sprintf("Queued prediction %d (job %s)", p.ID, optionalID(p.JobID)))
			if !watch {
				return nil
			}
			return a.followJob(cmd.Context(), p.JobID)
		},
	}
	create.Flags().Int64Var(&promptID, "prompt", 0, "prompt to run")
	create.Flags().Int64Var(&modelID, "model", 0, "model to run it on (default: backend choice)")
	create.Flags().BoolVarP(&watch, "watch", "w", false, "poll the job until it finishes")
	cmd.AddCommand(create)

	return cmd
}

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Follow prediction jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a prediction job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate("/predictions/jobs/" + args[0]); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.followJob(cmd.Context(), &id)
		},
	})
	return cmd
}

// followJob polls jobID, printing each status change, until the job is
// terminal or ctx is done.
func (a *app) followJob(ctx context.Context, jobID *int64) error {
	if jobID == nil {
		a.printer.Warning("Prediction has no job to follow")
		return nil
	}

	var last api.JobStatus
	w := a.console.WatchJob(ctx, jobID, jobs.WithOnUpdate(func(s jobs.Snapshot) {
		if s.Job == nil || s.Job.Status == last {
			return
		}
		last = s.Job.Status
		a.printer.Info(fmt.Sprintf("job %d %s", s.JobID, a.printer.Status(last)))
	}))
	defer w.Cancel()

	snap, err := w.Wait(ctx)
	if err != nil {
		return err
	}
	if snap.Job == nil {
		return failed("watch job", snap.Err)
	}
	switch snap.Job.Status {
	case api.StatusCompleted:
		a.printer.Box("Result", snap.Job.Result)
	case api.StatusFailed:
		return fmt.Errorf("job %d failed: %s", snap.JobID, snap.Job.ErrorMessage)
	default:
		if snap.Err != nil {
			return failed("watch job", snap.Err)
		}
	}
	return nil
}

func printPrediction(a *app, p *api.Prediction) {
	a.printer.KV(
		"id", fmt.Sprint(p.ID),
		"prompt", fmt.Sprint(p.PromptID),
		"model", optionalID(p.ModelID),
		"status", a.printer.Status(p.Status),
		"job", optionalID(p.JobID),
	)
	switch {
	case p.Result != "":
		a.printer.Box("Result", p.Result)
	case p.ErrorMessage != "":
		a.printer.Error(p.ErrorMessage)
	}
}

// =============================================================================
// Models
// =============================================================================

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models predictions can run on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate("/predictions"); err != nil {
				return err
			}
			return a.printModels(cmd.Context())
		},
	}
	return cmd
}

func (a *app) printModels(ctx context.Context) error {
	list, err := a.console.Resources.Models(ctx)
	if err != nil {
		return failed("list models", err)
	}
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		rows = append(rows, []string{fmt.Sprint(m.ID), m.Name, enabled(m.Enabled), m.Endpoint})
	}
	a.printer.Table([]string{"ID", "NAME", "ENABLED", "ENDPOINT"}, rows)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// chainGate returns a PersistentPreRunE that runs the root setup and then
// checks path against the route gate. Cobra only runs the nearest
// persistent pre-run, so the root hook is invoked explicitly.
func (a *app) chainGate(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if root := cmd.Root(); root.PersistentPreRunE != nil {
			if err := root.PersistentPreRunE(cmd, args); err != nil {
				return err
			}
		}
		return a.gate(path)
	}
}

func deleteCmd(a *app, noun string, del func(context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := del(cmd.Context(), id); err != nil {
				return failed("delete "+noun, err)
			}
			a.printer.Success(fmt.Sprintf("Deleted %s %d", noun, id))
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func enabled(b *bool) string {
	if b == nil || *b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
