package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/negotiator/internal/model"
)

var (
	threadsStatus string
	threadsUser   string
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect negotiation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads by status (every open status by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "threads", "")
		if err != nil {
			return err
		}
		defer env.Close()

		threads, err := env.Threads.ListActive(ctx, parseStatuses(threadsStatus), threadsUser)
		if err != nil {
			return err
		}
		return printJSON(threads)
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show one thread's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "threads", "")
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Threads.GetState(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

// parseStatuses splits a comma-separated status list. Empty input yields nil.
func parseStatuses(s string) []model.ThreadStatus {
	var out []model.ThreadStatus
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, model.ThreadStatus(part))
		}
	}
	return out
}

func init() {
	threadsListCmd.Flags().StringVar(&threadsStatus, "status", "", "comma-separated statuses to include")
	threadsListCmd.Flags().StringVar(&threadsUser, "user", "", "only threads owned by this user")
	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd)
	rootCmd.AddCommand(threadsCmd)
}
