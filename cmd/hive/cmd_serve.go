// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/internal/log"
	"github.com/teradata-labs/hive/internal/version"
	"github.com/teradata-labs/hive/pkg/agent"
	"github.com/teradata-labs/hive/pkg/communication"
	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/llm/factory"
	"github.com/teradata-labs/hive/pkg/orchestration"
	"github.com/teradata-labs/hive/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hive orchestrator",
	Long: `Start the hive orchestrator with the configured topology.

The orchestrator will:
- Clear the message store (every run starts from a clean slate)
- Spawn the configured workers and sub-coordinators
- Accept tasks from the intake directory (if enabled)
- Prune processed messages and log health snapshots on schedule

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// workerRoles cycles role assignments across spawned workers.
var workerRoles = []types.Role{
	types.RoleDeveloper,
	types.RoleAnalyst,
	types.RoleArchitect,
	types.RoleDataScientist,
}

// roleSkills seeds each role's skill tags in the scheduler registry.
var roleSkills = map[types.Role][]string{
	types.RoleDeveloper:     {"code", "implementation", "scripting"},
	types.RoleAnalyst:       {"research", "analysis", "reporting"},
	types.RoleArchitect:     {"design", "architecture", "planning"},
	types.RoleDataScientist: {"data", "statistics", "machine learning"},
}

// stack owns every long-lived component of one orchestrator process.
type stack struct {
	store      *communication.Store
	gateway    *llm.Gateway
	dispatcher *orchestration.Dispatcher
	logger     *zap.Logger

	runners []agentRunner
	fatal   chan error
	wg      sync.WaitGroup
}

type agentRunner struct {
	name string
	run  func(context.Context) error
}

// buildStack opens the message store, boots the LLM gateway and constructs
// the agent tree for the configured topology. Nothing polls until Start.
func buildStack(ctx context.Context, cfg *Config, logger *zap.Logger) (*stack, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := communication.NewStore(ctx, communication.Config{
		Path:          cfg.Database.Path,
		EncryptionKey: cfg.Database.EncryptionKey,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	// Every run starts from a clean slate: stale messages from an earlier
	// process must not leak into this one.
	if err := store.Clear(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("clearing message store: %w", err)
	}

	backendFactory := factory.NewBackendFactory(factory.FactoryConfig{
		OllamaEndpoint:  cfg.LLM.OllamaEndpoint,
		OllamaModel:     cfg.LLM.OllamaModel,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		OpenAIModel:     cfg.LLM.OpenAIModel,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		AnthropicModel:  cfg.LLM.AnthropicModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.TimeoutSeconds,
	})
	backends, err := backendFactory.CreateBackends(cfg.LLM.Backends)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	gateway := llm.NewGateway(llm.GatewayConfig{
		Backends:       backends,
		AttemptTimeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	logger.Info("LLM gateway ready", zap.Strings("backends", gateway.Backends()))

	if err := os.MkdirAll(cfg.Security.ProjectDir, 0750); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating project directory: %w", err)
	}
	writer, err := agent.NewFileWriter(cfg.Security.ProjectDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	commandRunner, err := agent.NewCommandRunner(agent.RunnerConfig{
		ProjectDir: cfg.Security.ProjectDir,
		Timeout:    time.Duration(cfg.Security.CommandTimeoutSeconds) * time.Second,
		MaxOutput:  cfg.Security.MaxOutputChars,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	st := &stack{
		store:   store,
		gateway: gateway,
		logger:  logger,
		fatal:   make(chan error, 1),
	}

	poll := time.Duration(cfg.Orchestrator.PollIntervalMS) * time.Millisecond
	chatTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	topology := types.Topology(cfg.Orchestrator.Topology)
	// A single worker leaves the middle tier nothing to group; the queen
	// assigns to it directly.
	if topology.UsesSubCoordinators() && cfg.Orchestrator.Workers == 1 {
		logger.Info("Single worker configured, assigning directly",
			zap.String("topology", string(types.TopologyCentralized)))
		topology = types.TopologyCentralized
	}

	// Workers, with roles cycled so every group gets a mixed skill set.
	workerRegistry := agent.NewRegistry()
	for i := 1; i <= cfg.Orchestrator.Workers; i++ {
		id := types.WorkerID(i)
		role := workerRoles[(i-1)%len(workerRoles)]
		worker, err := agent.NewWorker(agent.WorkerConfig{
			ID:           id,
			Role:         role,
			Skills:       roleSkills[role],
			Store:        store,
			Gateway:      gateway,
			ChatTimeout:  chatTimeout,
			PollInterval: poll,
			Runner:       commandRunner,
			Writer:       writer,
			Logger:       logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		workerRegistry.Register(id, role, roleSkills[role])
		st.runners = append(st.runners, agentRunner{name: id, run: worker.Run})
	}

	// In the hierarchical topology the queen assigns to sub-coordinators,
	// each managing its own slice of the worker pool. Otherwise the queen
	// assigns to workers directly.
	coordinatorRegistry := workerRegistry
	if topology.UsesSubCoordinators() {
		coordinatorRegistry = agent.NewRegistry()
		for gi, members := range splitWorkers(cfg.Orchestrator.Workers, cfg.Orchestrator.GroupSize) {
			subID := types.SubCoordinatorID(gi + 1)
			groupRegistry := agent.NewRegistry()
			for _, wi := range members {
				id := types.WorkerID(wi)
				role := workerRoles[(wi-1)%len(workerRoles)]
				groupRegistry.Register(id, role, roleSkills[role])
			}
			sub, err := orchestration.NewSubCoordinator(orchestration.SubCoordinatorConfig{
				ID:           subID,
				Store:        store,
				Gateway:      gateway,
				Registry:     groupRegistry,
				GroupSize:    cfg.Orchestrator.GroupSize,
				PollInterval: poll,
				ChatTimeout:  chatTimeout,
				Logger:       logger,
			})
			if err != nil {
				_ = store.Close()
				return nil, err
			}
			coordinatorRegistry.Register(subID, types.RoleSubCoordinator, nil)
			coordinatorRegistry.SetGroupSize(subID, groupRegistry.Len(), groupRegistry.Len())
			st.runners = append(st.runners, agentRunner{name: subID, run: sub.Run})
		}
		logger.Info("Worker groups formed",
			zap.Int("groups", coordinatorRegistry.Len()),
			zap.Int("group_size", cfg.Orchestrator.GroupSize))
	}

	decomposer, err := orchestration.NewDecomposer(orchestration.DecomposerConfig{
		Gateway:     gateway,
		ChatTimeout: chatTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	direct, err := orchestration.NewDirectExecutor(writer, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	coordinator, err := orchestration.NewCoordinator(orchestration.CoordinatorConfig{
		Store:        store,
		Gateway:      gateway,
		Registry:     coordinatorRegistry,
		Decomposer:   decomposer,
		Direct:       direct,
		Topology:     topology,
		PollInterval: poll,
		MaxAttempts:  cfg.Orchestrator.MaxAttempts,
		TaskTimeout:  time.Duration(cfg.Orchestrator.TaskTimeoutSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	st.runners = append(st.runners, agentRunner{name: types.CoordinatorID, run: coordinator.Run})

	dispatcher, err := orchestration.NewDispatcher(orchestration.DispatcherConfig{
		Store:        store,
		PollInterval: poll,
		Logger:       logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	st.dispatcher = dispatcher
	st.runners = append(st.runners, agentRunner{name: types.DispatcherID, run: dispatcher.Run})

	return st, nil
}

// splitWorkers chunks worker indices 1..workers into groups of at most
// groupSize, in order.
func splitWorkers(workers, groupSize int) [][]int {
	var groups [][]int
	for start := 1; start <= workers; start += groupSize {
		end := min(start+groupSize-1, workers)
		members := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			members = append(members, i)
		}
		groups = append(groups, members)
	}
	return groups
}

// Start launches every agent poll loop.
func (s *stack) Start(ctx context.Context) {
	for _, r := range s.runners {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case s.fatal <- fmt.Errorf("%s: %w", r.name, err):
				default:
				}
			}
		}()
	}
	s.logger.Info("Agents started", zap.Int("count", len(s.runners)))
}

// Fatal reports the first unrecoverable component error (store I/O).
func (s *stack) Fatal() <-chan error {
	return s.fatal
}

// Wait blocks until every poll loop exits or the timeout elapses. It
// returns true when all loops stopped in time.
func (s *stack) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases the message store.
func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("Error closing message store", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, args []string) {
	// Validate configuration
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := log.Logger()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Hive",
		zap.String("version", version.Get()),
		zap.String("topology", config.Orchestrator.Topology),
		zap.Int("workers", config.Orchestrator.Workers))

	// Show actual config file used (not just the --config flag)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults + environment variables",
			zap.String("searched", "$HIVE_DATA_DIR/hive.yaml, ./hive.yaml, /etc/hive/hive.yaml"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("Failed to build orchestrator", zap.Error(err))
	}
	defer st.Close()

	st.Start(ctx)

	// Maintenance jobs: prune processed messages, log store and backend
	// health snapshots.
	cronEngine := cron.New()
	retain := config.retainProcessed()
	if _, err := cronEngine.AddFunc(config.Maintenance.PruneSchedule, func() {
		pruneCtx, pruneCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer pruneCancel()
		pruned, err := st.store.PruneProcessed(pruneCtx, retain)
		if err != nil {
			logger.Error("Prune failed", zap.Error(err))
			return
		}
		if pruned > 0 {
			logger.Info("Pruned processed messages",
				zap.Int64("pruned", pruned),
				zap.Duration("retain", retain))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule prune job", zap.Error(err))
	}
	if _, err := cronEngine.AddFunc(config.Maintenance.StatsSchedule, func() {
		stats := st.store.Stats()
		logger.Info("Store statistics",
			zap.Int64("inserted", stats.Inserted),
			zap.Int64("delivered", stats.Delivered),
			zap.Int64("processed", stats.Processed),
			zap.Int64("compressed", stats.Compressed),
			zap.Int64("pruned", stats.Pruned))
		for _, h := range st.gateway.Health() {
			logger.Info("Backend health",
				zap.String("backend", h.Name),
				zap.String("state", string(h.State)),
				zap.Int64("calls", h.TotalCalls),
				zap.Float64("score", h.Score),
				zap.Float64("avg_response_seconds", h.AvgResponseSeconds))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule stats job", zap.Error(err))
	}
	cronEngine.Start()

	// Intake: watch a drop directory for *.task files.
	var intakeWG sync.WaitGroup
	if config.Intake.Enabled {
		watcher, err := startIntake(ctx, &intakeWG, config.Intake.Dir, st.dispatcher, logger)
		if err != nil {
			logger.Fatal("Failed to start intake watcher", zap.Error(err))
		}
		defer watcher.Close()
	}

	logger.Info("Hive is ready")

	// Handle graceful shutdown
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)",
			zap.String("signal", sig.String()))
		// Listen for second Ctrl+C (force shutdown)
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()
	case err := <-st.Fatal():
		logger.Error("Component failed, shutting down", zap.Error(err))
	}

	// Stop maintenance first (prevents new jobs from touching the store)
	cronCtx := cronEngine.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("Maintenance jobs did not finish in time")
	}

	// Cancel every poll loop and wait for them to drain
	cancel()
	if st.Wait(10 * time.Second) {
		logger.Info("All agents stopped")
	} else {
		logger.Warn("Agent shutdown timeout after 10s")
	}
	intakeWG.Wait()

	logger.Info("Shutdown complete")
}

// intake tracks task files already picked up so rewrite events do not
// resubmit them.
type intake struct {
	dir        string
	dispatcher *orchestration.Dispatcher
	logger     *zap.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// startIntake watches dir for *.task files and submits their contents as
// requests. The outcome lands alongside as <name>.result or <name>.error.
// Producers should write the file elsewhere and rename it into the
// directory so it arrives complete in a single create event.
func startIntake(ctx context.Context, wg *sync.WaitGroup, dir string, dispatcher *orchestration.Dispatcher, logger *zap.Logger) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating intake directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating intake watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching intake directory: %w", err)
	}
	logger.Info("Intake watcher started", zap.String("dir", dir))

	in := &intake{
		dir:        dir,
		dispatcher: dispatcher,
		logger:     logger,
		seen:       make(map[string]bool),
	}

	// Pick up task files dropped while the orchestrator was down.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				in.maybeSubmit(ctx, wg, filepath.Join(dir, entry.Name()))
			}
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					in.maybeSubmit(ctx, wg, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Intake watcher error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}

// maybeSubmit submits path's contents once per task file name. Files that
// already have a .result or .error sibling from a previous run are skipped.
func (in *intake) maybeSubmit(ctx context.Context, wg *sync.WaitGroup, path string) {
	if filepath.Ext(path) != ".task" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	base := strings.TrimSuffix(filepath.Base(path), ".task")

	in.mu.Lock()
	if in.seen[base] {
		in.mu.Unlock()
		return
	}
	in.seen[base] = true
	in.mu.Unlock()

	if _, err := os.Stat(filepath.Join(in.dir, base+".result")); err == nil {
		return
	}
	if _, err := os.Stat(filepath.Join(in.dir, base+".error")); err == nil {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("Failed to read task file", zap.String("path", path), zap.Error(err))
		return
	}
	task := strings.TrimSpace(string(content))
	if task == "" {
		in.logger.Warn("Ignoring empty task file", zap.String("path", path))
		return
	}

	future, err := in.dispatcher.Submit(ctx, task)
	if err != nil {
		in.logger.Error("Failed to submit task file", zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Info("Task file submitted",
		zap.String("file", filepath.Base(path)),
		zap.String("request_id", future.RequestID()))

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, err := future.Wait(ctx)
		if err != nil {
			return // shutting down
		}
		name := base + ".result"
		if !outcome.OK {
			name = base + ".error"
		}
		dest := filepath.Join(in.dir, name)
		if err := os.WriteFile(dest, []byte(outcome.Result.Content), 0600); err != nil {
			in.logger.Error("Failed to write outcome file", zap.String("path", dest), zap.Error(err))
			return
		}
		in.logger.Info("Outcome written",
			zap.String("file", name),
			zap.Bool("ok", outcome.OK))
	}()
}
