package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lumeon/arbiter/internal/convergence"
	"github.com/lumeon/arbiter/internal/db"
	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/memory"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orchestrator"
	"github.com/lumeon/arbiter/internal/planner"
	"github.com/lumeon/arbiter/internal/supervisor"
	"github.com/lumeon/arbiter/internal/tool"
	"github.com/lumeon/arbiter/internal/ttl"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var ttlOverride int
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run one request through the orchestration engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.Join(args, " ")
			ctx := cmd.Context()

			storeDB, workRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			cfg, err := loadConfig(workRoot)
			if err != nil {
				return err
			}
			if ttlOverride > 0 {
				cfg.Budgets.TTLCeiling = ttlOverride
			}

			client, err := llm.NewFromConfig(ctx, cfg.LLM)
			if err != nil {
				return err
			}

			mem := memory.NewInMemory()
			registry := tool.NewRegistry()
			if cfg.Tools.Builtin {
				tool.RegisterBuiltins(registry, mem)
			}
			if cfg.Tools.MCPURL != "" {
				source, err := tool.ConnectMCP(ctx, cfg.Tools.MCPURL)
				if err != nil {
					return err
				}
				defer func() { _ = source.Close() }()
				if err := source.RegisterAll(ctx, registry); err != nil {
					return err
				}
			}

			store := db.NewStore(storeDB)
			runID := uuid.NewString()
			if err := store.CreateRun(ctx, runID, request, cfg.Budgets.TTLCeiling); err != nil {
				return err
			}

			sup := supervisor.New(client, cfg.Budgets.MaxRepairAttempts)
			engine := orchestrator.NewEngine(orchestrator.Deps{
				Client: client,
				Planner: planner.New(client, sup, planner.Limits{
					FragmentCap:     cfg.Budgets.FragmentCap,
					GlobalCap:       cfg.Budgets.GlobalRefinement,
					MaxSubplanDepth: cfg.Budgets.MaxSubplanDepth,
				}),
				Validator: &orchestrator.SemanticValidator{Registry: registry},
				Convergence: convergence.New(client, sup, convergence.Thresholds{
					Completeness: cfg.Thresholds.Completeness,
					Coherence:    cfg.Thresholds.Coherence,
				}),
				Supervisor: sup,
				Registry:   registry,
				Memory:     mem,
				TTL:        ttl.NewStrategy(cfg.Budgets.TTLCeiling),
				Logger:     eventlog.Fanout{eventlog.ZerologSink{}, &db.EventSink{Store: store}},
			}, orchestrator.EngineConfig{
				MaxPasses:  cfg.Budgets.MaxPasses,
				TTLCeiling: cfg.Budgets.TTLCeiling,
				PlannerLimits: planner.Limits{
					FragmentCap:     cfg.Budgets.FragmentCap,
					GlobalCap:       cfg.Budgets.GlobalRefinement,
					MaxSubplanDepth: cfg.Budgets.MaxSubplanDepth,
				},
			})

			history, runErr := engine.RunWithID(ctx, runID, request)
			if history != nil {
				if err := store.SaveHistory(context.Background(), history); err != nil {
					log.Warn().Err(err).Msg("run history not persisted")
				}
				printResult(history)
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&ttlOverride, "ttl", 0, "override the TTL ceiling for this run")
	return cmd
}

func printResult(h *model.ExecutionHistory) {
	fmt.Printf("run %s finished: %s (%d passes, ttl %d/%d)\n",
		h.ExecutionID, h.Status, h.Statistics.Passes, h.Statistics.TTLRemaining, h.Statistics.TTLAllocated)
	if h.FinalResult == nil {
		return
	}
	fmt.Println()
	fmt.Println(h.FinalResult.AnswerText)
	if h.FinalResult.Notes != "" {
		fmt.Printf("\nnotes: %s\n", h.FinalResult.Notes)
	}
	fmt.Printf("confidence: %.2f\n", h.FinalResult.Confidence)
}
