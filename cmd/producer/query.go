package main

import (
	"time"

	"github.com/spf13/cobra"
)

var resultWait time.Duration

var resultCmd = &cobra.Command{
	Use:   "result <task_id>",
	Short: "Show the task result from the result channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runResult,
}

var statusCmd = &cobra.Command{
	Use:   "status <task_id>",
	Short: "Show the delivery record of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	resultCmd.Flags().DurationVar(&resultWait, "wait", 0, "wait up to this long for a final state")
}

func runResult(cmd *cobra.Command, args []string) error {
	results, closeResults := openResults()
	defer closeResults()

	if resultWait > 0 {
		res, err := waitResult(cmd.Context(), results, args[0], resultWait)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	}

	res, err := results.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.GetByTaskID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, rec)
}
