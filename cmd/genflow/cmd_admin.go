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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/genflow-console/pkg/access"
	"github.com/AleutianAI/genflow-console/pkg/api"
)

// =============================================================================
// Admin
// =============================================================================

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "admin",
		Short:             "Administer users and models (admin role)",
		PersistentPreRunE: a.chainGate("/admin"),
	}
	cmd.AddCommand(newAdminUsersCmd(a), newAdminModelsCmd(a))
	return cmd
}

func newAdminUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "users",
		Short:             "Manage user accounts",
		PersistentPreRunE: a.chainGate("/admin/users"),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.console.Resources.Users(cmd.Context())
			if err != nil {
				return failed("list users", err)
			}
			rows := make([][]string, 0, len(list))
			for _, u := range list {
				rows = append(rows, []string{fmt.Sprint(u.ID), u.Email, u.Name, string(u.Role), enabled(u.Enabled)})
			}
			a.printer.Table([]string{"ID", "EMAIL", "NAME", "ROLE", "ENABLED"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show one user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			u, err := a.console.Resources.User(cmd.Context(), id)
			if err != nil {
				return failed("get user", err)
			}
			a.printer.KV(
				"id", fmt.Sprint(u.ID),
				"email", u.Email,
				"name", u.Name,
				"role", string(u.Role),
				"enabled", enabled(u.Enabled),
				"created", u.CreatedAt,
			)
			return nil
		},
	})

	var email, password, name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.console.Resources.CreateUser(cmd.Context(), api.UserCreate{
				Email:    email,
				Password: password,
				Name:     name,
				Role:     api.Role(role),
			})
			if err != nil {
				return failed("create user", err)
			}
			a.printer.Success(fmt.Sprintf("Created user %d (%s, %s)", u.ID, u.Email, u.Role))
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", string(api.RoleUser), "USER or ADMIN")
	cmd.AddCommand(create)

	var newRole string
	var enable, disable bool
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a user's role or enable/disable the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var req api.UserUpdate
			if newRole != "" {
				r := api.Role(newRole)
				req.Role = &r
			}
			if enable || disable {
				on := enable
				req.Enabled = &on
			}
			u, err := a.console.Resources.UpdateUser(cmd.Context(), id, req)
			if err != nil {
				return failed("update user", err)
			}
			a.printer.Success(fmt.Sprintf("Updated user %d (%s, enabled: %s)", u.ID, u.Role, enabled(u.Enabled)))
			return nil
		},
	}
	update.Flags().StringVar(&newRole, "role", "", "new role")
	update.Flags().BoolVar(&enable, "enable", false, "enable the account")
	update.Flags().BoolVar(&disable, "disable", false, "disable the account")
	update.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.AddCommand(update)

	cmd.AddCommand(deleteCmd(a, "user", func(ctx context.Context, id int64) error {
		return a.console.Resources.DeleteUser(ctx, id)
	}))
	return cmd
}

func newAdminModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "models",
		Short:             "Register and configure models",
		PersistentPreRunE: a.chainGate("/admin/models"),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printModels(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show one model",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.console.Resources.Model(cmd.Context(), id)
			if err != nil {
				return failed("get model", err)
			}
			a.printer.KV(
				"id", fmt.Sprint(m.ID),
				"name", m.Name,
				"endpoint", m.Endpoint,
				"description", m.Description,
				"enabled", enabled(m.Enabled),
			)
			return nil
		},
	})

	var name, endpoint, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.console.Resources.CreateModel(cmd.Context(), api.ModelCreate{
				Name:        name,
				Endpoint:    endpoint,
				Description: description,
			})
			if err != nil {
				return failed("create model", err)
			}
			a.printer.Success(fmt.Sprintf("Registered model %d (%s)", m.ID, m.Name))
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "model name")
	create.Flags().StringVar(&endpoint, "endpoint", "", "inference endpoint URL")
	create.Flags().StringVar(&description, "description", "", "description")
	cmd.AddCommand(create)

	var enable, disable bool
	var newEndpoint string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Enable, disable or repoint a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var req api.ModelUpdate
			if cmd.Flags().Changed("endpoint") {
				req.Endpoint = &newEndpoint
			}
			if enable || disable {
				on := enable
				req.Enabled = &on
			}
			m, err := a.console.Resources.UpdateModel(cmd.Context(), id, req)
			if err != nil {
				return failed("update model", err)
			}
			a.printer.Success(fmt.Sprintf("Updated model %d (enabled: %s)", m.ID, enabled(m.Enabled)))
			return nil
		},
	}
	update.Flags().StringVar(&newEndpoint, "endpoint", "", "new endpoint URL")
	update.Flags().BoolVar(&enable, "enable", false, "enable the model")
	update.Flags().BoolVar(&disable, "disable", false, "disable the model")
	update.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.AddCommand(update)

	cmd.AddCommand(deleteCmd(a, "model", func(ctx context.Context, id int64) error {
		return a.console.Resources.DeleteModel(ctx, id)
	}))
	return cmd
}

// =============================================================================
// Dashboard and Routes
// =============================================================================

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarise datasets, prompts and predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate("/dashboard"); err != nil {
				return err
			}
			sum, err := a.console.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			user := a.console.Session.Snapshot().User
			a.printer.Title("Welcome back, " + displayName(user))
			a.printer.KV(
				"datasets", statText(sum.Datasets.Count, sum.Datasets.Err),
				"prompts", statText(sum.Prompts.Count, sum.Prompts.Err),
				"predictions", statText(sum.Predictions.Count, sum.Predictions.Err),
				"queued", fmt.Sprint(sum.ByStatus[api.StatusQueued]),
				"running", fmt.Sprint(sum.ByStatus[api.StatusRunning]),
				"completed", fmt.Sprint(sum.ByStatus[api.StatusCompleted]),
				"failed", fmt.Sprint(sum.ByStatus[api.StatusFailed]),
			)
			return nil
		},
	}
}

// newRouteCmd exposes the route gate directly, mostly for scripting and
// support: it prints what the console would do for a path.
func newRouteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Show the access decision for a console path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := a.console.Gate(args[0])
			pairs := []string{"path", args[0], "outcome", d.Outcome.String()}
			if d.Outcome != access.Allow && d.Location != "" {
				pairs = append(pairs, "location", d.Location)
			}
			a.printer.KV(pairs...)
			return nil
		},
	}
}

func displayName(u *api.User) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func statText(n int, err error) string {
	if err != nil {
		return "unavailable (" + api.Message(err) + ")"
	}
	return fmt.Sprint(n)
}
