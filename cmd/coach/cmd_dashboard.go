package main

import (
	"fmt"
	"io"

	"github.com/jrsteele09/go-coach-engine/account"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/jrsteele09/go-coach-engine/orchestrator"
	"github.com/spf13/cobra"
)

func runLink(cmd *cobra.Command, args []string) error {
	email, secret, err := promptCredentials(cmd.OutOrStdout(), args, "Watch account email", "Watch account password")
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), true, func(a *app) error {
		outcome, err := a.engine.SubmitAccountLinkCredentials(cmd.Context(), email, secret)
		if err != nil {
			return err
		}
		// The pending link only lives in this process, so the code is read here
		for outcome == account.OutcomeNeedsVerification {
			code, err := prompt(cmd.OutOrStdout(), "Verification code sent to your email")
			if err != nil {
				return err
			}
			err = a.engine.SubmitVerificationCode(cmd.Context(), code)
			if err == nil {
				break
			}
			if !coacherrors.Is(err, coacherrors.ErrInvalidCode) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "That code was not accepted, try again.")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Watch account linked.")
		return showDashboard(cmd.OutOrStdout(), a)
	})
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		return showDashboard(cmd.OutOrStdout(), a)
	})
}

func runAdvice(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		if err := requireReady(a); err != nil {
			return err
		}
		var minutes *int
		if cmd.Flags().Changed("minutes") {
			minutes = &minutesFlag
		}
		if err := a.engine.RequestAdvice(cmd.Context(), minutes); err != nil {
			return err
		}
		return showDashboard(cmd.OutOrStdout(), a)
	})
}

func runLanguage(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		if err := a.engine.ChangeLanguage(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Language set to %s.\n", args[0])
		if a.engine.State() == orchestrator.StateAuthenticatedReady {
			return showDashboard(cmd.OutOrStdout(), a)
		}
		return nil
	})
}

func showDashboard(w io.Writer, a *app) error {
	if err := requireReady(a); err != nil {
		return err
	}
	snap, ok := a.engine.Snapshot()
	if !ok {
		return fmt.Errorf("dashboard not loaded: %w", coacherrors.ErrNoSnapshot)
	}
	v := newDashboardView(snap)
	return render(w, v, func(w io.Writer) { printDashboard(w, v) })
}

// requireReady explains why the dashboard is not available
func requireReady(a *app) error {
	switch a.engine.State() {
	case orchestrator.StateAuthenticatedReady:
		return nil
	case orchestrator.StateAnonymous:
		if err := a.engine.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("not signed in, run: coach login: %w", coacherrors.ErrNotAuthenticated)
	case orchestrator.StateAuthenticatedNoLink, orchestrator.StateMFAPending:
		return fmt.Errorf("no watch account linked, run: coach link: %w", coacherrors.ErrAccountNotLinked)
	default:
		if err := a.engine.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("dashboard not ready (%s): %w", a.engine.State(), coacherrors.ErrInvalidState)
	}
}
