package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-coach-engine/plan"
	"github.com/spf13/cobra"
)

var errPaywall = errors.New("this feature needs a premium subscription")

func runSettings(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		settings, ok, err := a.engine.OpenSettings(cmd.Context())
		if err := gated(ok, err); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), settings, func(w io.Writer) {
			fmt.Fprintf(w, "Sport:         %s\n", settings.PrimarySport)
			fmt.Fprintf(w, "Language:      %s\n", settings.Language)
			fmt.Fprintf(w, "Coach style:   %s\n", settings.CoachStyle)
			fmt.Fprintf(w, "Strength days: %d\n", settings.StrengthDays)
			for _, r := range settings.Races {
				fmt.Fprintf(w, "Race:          %s on %s\n", r.Name, r.Date)
			}
		})
	})
}

func runHistory(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		history, ok, err := a.engine.ViewMetricHistory(cmd.Context(), daysFlag)
		if err := gated(ok, err); err != nil {
			return err
		}
		return renderRaw(cmd.OutOrStdout(), history)
	})
}

func runActivity(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		detail, ok, err := a.engine.OpenActivityDetail(cmd.Context(), args[0])
		if err := gated(ok, err); err != nil {
			return err
		}
		return renderRaw(cmd.OutOrStdout(), detail)
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	d, err := plan.ParseDuration(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), true, func(a *app) error {
		p, ok, err := a.engine.GeneratePlan(cmd.Context(), d)
		if err := gated(ok, err); err != nil {
			return err
		}
		return renderRaw(cmd.OutOrStdout(), p)
	})
}

// runChat reads messages from stdin until an empty line or EOF
func runChat(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Ask your coach anything. An empty line ends the chat.")
		for {
			text, err := prompt(w, "You")
			if err != nil || strings.TrimSpace(text) == "" {
				return nil
			}
			reply, ok, err := a.engine.SendChatMessage(cmd.Context(), text)
			if err := gated(ok, err); err != nil {
				return err
			}
			fmt.Fprintf(w, "Coach: %s\n", reply)
		}
	})
}

func runSyncWorkout(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		if err := requireReady(a); err != nil {
			return err
		}
		ok, err := a.engine.SyncWorkout(cmd.Context())
		if err := gated(ok, err); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Workout sent to your watch.")
		return nil
	})
}

// gated turns a paywalled result into an error the CLI can print
func gated(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return errPaywall
	}
	return nil
}
