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
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/genflow-console/pkg/session"
	"github.com/AleutianAI/genflow-console/pkg/ux"
)

// EnvPassword supplies the password for login/register without a prompt.
const EnvPassword = "GENFLOW_PASSWORD"

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session token for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(password)
			if err != nil {
				return err
			}
			if err := a.console.Session.Login(cmd.Context(), email, pw); err != nil {
				return authFailure("login", err)
			}
			user := a.console.Session.Snapshot().User
			a.printer.Success(fmt.Sprintf("Signed in as %s (%s)", user.Email, user.Role))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $"+EnvPassword+" or stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(password)
			if err != nil {
				return err
			}
			if err := a.console.Session.Register(cmd.Context(), email, pw, name); err != nil {
				return authFailure("register", err)
			}
			user := a.console.Session.Snapshot().User
			a.printer.Success(fmt.Sprintf("Account created for %s", user.Email))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $"+EnvPassword+" or stdin)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.console.Session.Snapshot().Authenticated() {
				a.printer.Info("Not signed in")
				return nil
			}
			a.console.Session.Logout(cmd.Context())
			a.printer.Success("Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate("/dashboard"); err != nil {
				return err
			}
			u := a.console.Session.Snapshot().User
			a.printer.KV(
				"id", fmt.Sprint(u.ID),
				"email", u.Email,
				"name", u.Name,
				"role", string(u.Role),
			)
			return nil
		},
	}
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the stored session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show session phase and token expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := a.console.Session.Snapshot()
			pairs := []string{"phase", state.Phase.String()}
			if state.User != nil {
				pairs = append(pairs, "user", state.User.Email, "role", string(state.User.Role))
			}
			if state.Token != "" {
				pairs = append(pairs, "expires", tokenExpiry(state.Token, time.Now()))
			}
			pairs = append(pairs, "store", a.cfg.Session.Store)
			a.printer.KV(pairs...)
			return nil
		},
	})
	return cmd
}

// tokenExpiry describes when token expires without verifying it.
func tokenExpiry(token string, now time.Time) string {
	claims, err := session.PeekClaims(token)
	if err != nil {
		return "unknown (opaque token)"
	}
	switch {
	case claims.ExpiresAt.IsZero():
		return "never"
	case claims.Expired(now):
		return "expired " + claims.ExpiresAt.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%s (in %s)", claims.ExpiresAt.Format(time.RFC3339), claims.ExpiresAt.Sub(now).Round(time.Second))
	}
}

// password resolves the password from the flag, the environment, or one
// line of stdin.
func (a *app) password(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvPassword); env != "" {
		return env, nil
	}
	if a.printer.Level != ux.LevelMachine {
		fmt.Fprint(a.stderr, "Password: ")
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("password is required")
	}
	return line, nil
}

// authFailure turns a login/register error into a user-facing one.
func authFailure(op string, err error) error {
	switch {
	case errors.Is(err, session.ErrNoToken):
		return fmt.Errorf("%s failed: the server did not return a token", op)
	case errors.Is(err, session.ErrSessionRevoked):
		return fmt.Errorf("%s cancelled: session was logged out", op)
	}
	return failed(op, err)
}
