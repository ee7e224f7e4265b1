package main

import (
	"github.com/spf13/cobra"
)

var (
	outputFormat string
	verbose      bool
	noBanner     bool
	envFiles     []string

	passwordFlag string
	minutesFlag  int
	daysFlag     int
	socialFlag   bool

	rootCmd = &cobra.Command{
		Use:           "coach",
		Short:         "Command line client for the AI running coach",
		Long:          "coach signs in to the coaching service, links your watch account and shows your daily dashboard and advice.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if !noBanner && outputFormat == formatText && cmd.Name() != "help" {
				displayAppname("AI Coach")
			}
		},
	}

	// --- Session ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the session, watch link and subscription",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_session.go
	}
	loginCmd = &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in with email and password, or --social for the identity provider",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogin, // Defined in cmd_session.go
	}
	registerCmd = &cobra.Command{
		Use:   "register [email]",
		Short: "Create an account and sign in",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRegister, // Defined in cmd_session.go
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE:  runLogout, // Defined in cmd_session.go
	}

	// --- Watch account ---
	linkCmd = &cobra.Command{
		Use:   "link [watch-email]",
		Short: "Link your watch account, prompting for a verification code when one is sent",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLink, // Defined in cmd_dashboard.go
	}

	// --- Dashboard ---
	dashboardCmd = &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"today"},
		Short:   "Show today's metrics, activities and coaching advice",
		Args:    cobra.NoArgs,
		RunE:    runDashboard, // Defined in cmd_dashboard.go
	}
	adviceCmd = &cobra.Command{
		Use:   "advice",
		Short: "Regenerate today's advice, optionally for the time you have",
		Args:  cobra.NoArgs,
		RunE:  runAdvice, // Defined in cmd_dashboard.go
	}
	languageCmd = &cobra.Command{
		Use:   "language <code>",
		Short: "Change the coaching language and regenerate the advice",
		Args:  cobra.ExactArgs(1),
		RunE:  runLanguage, // Defined in cmd_dashboard.go
	}

	// --- Premium ---
	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show your coaching settings",
		Args:  cobra.NoArgs,
		RunE:  runSettings, // Defined in cmd_premium.go
	}
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show health metric history",
		Args:  cobra.NoArgs,
		RunE:  runHistory, // Defined in cmd_premium.go
	}
	activityCmd = &cobra.Command{
		Use:   "activity <id>",
		Short: "Show the details of one activity",
		Args:  cobra.ExactArgs(1),
		RunE:  runActivity, // Defined in cmd_premium.go
	}
	planCmd = &cobra.Command{
		Use:   "plan <1-Week|1-Month>",
		Short: "Generate a training plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan, // Defined in cmd_premium.go
	}
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Chat with the coach about your training",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_premium.go
	}
	syncWorkoutCmd = &cobra.Command{
		Use:   "sync-workout",
		Short: "Send today's suggested workout to your watch",
		Args:  cobra.NoArgs,
		RunE:  runSyncWorkout, // Defined in cmd_premium.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatText, "output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and gateway call metrics")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "do not print the banner")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")

	loginCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "password (prompted when omitted)")
	loginCmd.Flags().BoolVar(&socialFlag, "social", false, "sign in through the identity provider")
	registerCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "password (prompted when omitted)")
	linkCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "watch account password (prompted when omitted)")
	adviceCmd.Flags().IntVarP(&minutesFlag, "minutes", "m", 0, "time available for today's workout")
	historyCmd.Flags().IntVarP(&daysFlag, "days", "d", 30, "number of days")

	rootCmd.AddCommand(statusCmd, loginCmd, registerCmd, logoutCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(dashboardCmd, adviceCmd, languageCmd)
	rootCmd.AddCommand(settingsCmd, historyCmd, activityCmd, planCmd, chatCmd, syncWorkoutCmd)
}
