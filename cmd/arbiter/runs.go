package main

import (
	"fmt"

	"github.com/lumeon/arbiter/internal/db"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past arbiter runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			store := db.NewStore(storeDB)
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %s  %-20s passes=%d ttl=%d  %s\n",
					r.RunID, r.CreatedAt, r.Status, r.PassCount, r.TTLRemaining, truncateTask(r.Task))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var showPasses bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its final answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			store := db.NewStore(storeDB)
			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run:        %s\n", run.RunID)
			fmt.Printf("created:    %s\n", run.CreatedAt)
			fmt.Printf("status:     %s\n", run.Status)
			fmt.Printf("task:       %s\n", run.Task)
			fmt.Printf("passes:     %d\n", run.PassCount)
			fmt.Printf("ttl left:   %d\n", run.TTLRemaining)
			if run.TTLExhausted {
				fmt.Println("ttl:        exhausted")
			}
			if run.AnswerText != "" {
				fmt.Printf("confidence: %.2f\n\n%s\n", run.Confidence, run.AnswerText)
			}

			if showPasses {
				passes, err := store.GetPasses(cmd.Context(), run.RunID)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, p := range passes {
					fmt.Printf("pass %2d phase %s  ttl=%d  %dms", p.PassNumber, p.Phase, p.TTLRemaining, p.DurationMS)
					if p.AdjustmentReason != "" {
						fmt.Printf("  (%s)", p.AdjustmentReason)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPasses, "passes", false, "include the pass timeline")
	return cmd
}

func truncateTask(task string) string {
	if len(task) > 60 {
		return task[:60] + "…"
	}
	return task
}
