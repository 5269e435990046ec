// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/fleetauth/internal/account"
)

func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer player accounts",
		Long: `Register accounts, change passwords and ranks, and inspect profiles.
Changes are published to the fleet, so running servers pick them up.`,
	}
	cmd.AddCommand(newAccountRegisterCmd(deps))
	cmd.AddCommand(newAccountPasswdCmd(deps))
	cmd.AddCommand(newAccountRankCmd(deps))
	cmd.AddCommand(newAccountShowCmd(deps))
	return cmd
}

// withRuntime runs fn against a freshly wired runtime.
func withRuntime(deps *Deps, fn func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg, deps)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()
		return fn(ctx, cmd, rt, args)
	}
}

func newAccountRegisterCmd(deps *Deps) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register USERNAME",
		Short: "Create an account",
		Long:  `Create an account. Without --password the password is read from the first line of stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			if password == "" {
				var err error
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			result, err := rt.auth.Register(ctx, args[0], password)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), result)
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "password of the new account")
	return cmd
}

func newAccountPasswdCmd(deps *Deps) *cobra.Command {
	var oldPassword, newPassword string
	cmd := &cobra.Command{
		Use:   "passwd ID",
		Short: "Change the password of an account",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			result, err := rt.auth.ChangePassword(ctx, id, oldPassword, newPassword)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), result)
		}),
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newAccountRankCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "rank ID RANK",
		Short: "Set the staff rank of an account",
		Long:  `Set the staff rank of an account. RANK is one of EVERYONE, VERIFIED, OVERSEER, MODERATOR, ADMIN, OWNER.`,
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			rank, err := account.ParseRank(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			changed, err := rt.profile.UpdateRank(ctx, id, rank)
			if err != nil {
				return err
			}
			if !changed {
				cmd.Printf("account %d already has rank %s\n", id, rank)
				return nil
			}
			cmd.Printf("account %d is now %s\n", id, rank)
			return nil
		}),
	}
}

func newAccountShowCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show USERNAME",
		Short: "Print an account profile",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			acc, err := rt.profile.SelectByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acc)
			return nil
		}),
	}
}

func printAccount(w io.Writer, acc *account.Account) {
	fmt.Fprintf(w, "id:           %d\n", acc.ID)
	fmt.Fprintf(w, "username:     %s\n", acc.Username)
	fmt.Fprintf(w, "rank:         %s\n", acc.Rank)
	fmt.Fprintf(w, "games:        %d\n", acc.Games)
	fmt.Fprintf(w, "playtime:     %s\n", acc.Playtime)
	if acc.Discord != nil {
		fmt.Fprintf(w, "discord:      %d\n", *acc.Discord)
	}
	achievements := make([]string, 0)
	for _, a := range acc.Achievements.Slice() {
		achievements = append(achievements, a.String())
	}
	fmt.Fprintf(w, "achievements: %s\n", strings.Join(achievements, ", "))
	fmt.Fprintf(w, "created:      %s\n", acc.CreatedAt.UTC().Format("2006-01-02 15:04:05Z"))
}

func parseAccountID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, oops.Code("INVALID_ACCOUNT_ID").With("id", s).Errorf("account id must be a positive integer")
	}
	return id, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", oops.Code("INVALID_INPUT").With("operation", "read password").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// resultReporter prints a successful Result and turns every other variant
// into an error carrying its own code.
type resultReporter struct {
	out io.Writer
	err error
}

func report(out io.Writer, result account.Result) error {
	r := &resultReporter{out: out}
	result.Visit(r)
	return r.err
}

func (r *resultReporter) Success(s account.Success) {
	fmt.Fprintf(r.out, "ok: account %d\n", s.AccountID)
}

func (r *resultReporter) NotFound(account.NotFound) {
	r.err = oops.Code("ACCOUNT_NOT_FOUND").Errorf("no such account")
}

func (r *resultReporter) WrongPassword(account.WrongPassword) {
	r.err = oops.Code("WRONG_PASSWORD").Errorf("password does not match")
}

func (r *resultReporter) AlreadyLoggedIn(account.AlreadyLoggedIn) {
	r.err = oops.Code("ALREADY_LOGGED_IN").Errorf("connection already holds a session")
}

func (r *resultReporter) AlreadyRegistered(account.AlreadyRegistered) {
	r.err = oops.Code("ALREADY_REGISTERED").Errorf("username is taken")
}

func (r *resultReporter) InvalidUsername(res account.InvalidUsername) {
	r.err = oops.Code("INVALID_USERNAME").Errorf("%s", describe(res.Reasons))
}

func (r *resultReporter) InvalidPassword(res account.InvalidPassword) {
	r.err = oops.Code("INVALID_PASSWORD").Errorf("%s", describe(res.Reasons))
}

func describe[T interface{ Describe() string }](reasons []T) string {
	names := make([]string, len(reasons))
	for i, req := range reasons {
		names[i] = req.Describe()
	}
	return strings.Join(names, "; ")
}
