package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"salesagent/internal/adapter/planner"
	"salesagent/internal/adapter/store"
	"salesagent/internal/adapter/tool"
	"salesagent/internal/domain"
	"salesagent/internal/infra/config"
	"salesagent/internal/infra/logger"
	"salesagent/internal/infra/tracer"
	"salesagent/internal/usecase"
	"salesagent/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newThreadID() string {
	now := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func run() error {
	var (
		cfgPath    = flag.String("config", "config.yaml", "path to config file")
		customerID = flag.String("customer", "customer-1", "customer identity for this session")
		threadID   = flag.String("thread", "", "resume an existing conversation thread")
		seed       = flag.Bool("seed", false, "seed the product catalog when empty")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	if *seed || cfg.Store.Seed {
		if err := st.Seed(ctx); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	bus := eventbus.New(log)
	defer bus.Close()

	registry := tool.NewRegistry(log)
	registry.MustRegister(tool.NewSearchProductsTool(st, log))
	registry.MustRegister(tool.NewCategoriesTool(st, log))
	registry.MustRegister(tool.NewRecommendationsTool(st, log))
	registry.MustRegister(tool.NewCheckOrderStatusTool(st, log))
	registry.MustRegister(tool.NewCreateOrderTool(st, log))

	var pl domain.Planner = planner.NewOpenAIPlanner(cfg.Planner, log)
	if cfg.Planner.CircuitBreaker.Enabled {
		pl = planner.NewCircuitBreakerPlanner(pl, cfg.Planner.CircuitBreaker, log)
	}

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Planner:             pl,
		Tools:               registry,
		Checkpoints:         st,
		Logger:              log,
		Bus:                 bus,
		Locker:              usecase.NewThreadLocker(),
		MaxIterations:       cfg.Agent.MaxIterations,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		SubmitRatePerMinute: cfg.Agent.SubmitRatePerMinute,
	})
	gateway := usecase.NewApprovalGateway(orch)

	if cfg.Reaper.Enabled {
		stopReaper, err := startReaper(cfg.Reaper, st, bus, log)
		if err != nil {
			return fmt.Errorf("reaper: %w", err)
		}
		defer stopReaper()
	}

	tid := *threadID
	if tid == "" {
		tid = newThreadID()
	}

	log.Info("sales agent starting",
		"planner", pl.Name(),
		"model", cfg.Planner.Model,
		"tools", len(registry.List()),
		"thread", tid,
		"customer", *customerID,
	)

	return chatLoop(ctx, orch, gateway, log, tid, *customerID, cfg.Agent.Timeout)
}

// startReaper schedules stale-thread deletion on the configured cron
// expression and returns a stop function.
func startReaper(cfg config.ReaperConfig, st *store.SQLiteStore, bus domain.EventBus, log *slog.Logger) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := st.ReapStale(ctx, cfg.MaxAge)
		if err != nil {
			log.Error("thread reap failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("reaped stale threads", "count", n, "max_age", cfg.MaxAge)
			bus.Publish(ctx, domain.Event{Type: domain.EventThreadReaped, Timestamp: time.Now()})
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}

// chatLoop reads user input from stdin, submits it and prints replies. When
// a turn suspends on a sensitive tool call, it prompts for approval before
// accepting further input.
func chatLoop(ctx context.Context, orch *usecase.Orchestrator, gateway *usecase.ApprovalGateway, log *slog.Logger, threadID, customerID string, turnTimeout time.Duration) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Connected. Type a message, or 'exit' to quit.")

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
		res, err := orch.SubmitUserMessage(turnCtx, threadID, customerID, line)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("error: %v\n", err)
			continue
		}

		if res.Pending != nil {
			res, err = decidePending(ctx, gateway, scanner, threadID, res.Pending)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Printf("error: %v\n", err)
				continue
			}
		}

		if reply := res.Reply(); reply != "" {
			fmt.Printf("agent> %s\n", reply)
		}
	}
}

// decidePending prompts for a yes / no decision on the pending tool call and
// resumes the turn.
func decidePending(ctx context.Context, gateway *usecase.ApprovalGateway, scanner *bufio.Scanner, threadID string, pending *domain.PendingApproval) (*usecase.TurnResult, error) {
	fmt.Println("The agent wants to run a sensitive action:")
	fmt.Println(gateway.DescribePending(pending))
	fmt.Println("Approve? Type 'yes', or 'no <reason>'.")

	for {
		fmt.Print("approve> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return gateway.Deny(ctx, threadID, "input closed")
		}
		answer := strings.TrimSpace(scanner.Text())
		switch {
		case strings.EqualFold(answer, "yes") || strings.EqualFold(answer, "y"):
			res, err := gateway.Approve(ctx, threadID)
			if errors.Is(err, domain.ErrStaleApproval) {
				fmt.Println("the conversation moved on; this action can no longer be approved")
			}
			return res, err
		case strings.EqualFold(answer, "no") || strings.HasPrefix(strings.ToLower(answer), "no "):
			reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(answer, "no"), "No"))
			return gateway.Deny(ctx, threadID, reason)
		default:
			fmt.Println("please answer 'yes' or 'no <reason>'")
		}
	}
}
