// Command onyx-scheduler wires a BatchSingleJobScheduler up behind a
// small cobra CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	onyxlog "github.com/taegeonum/onyx/common/log"
	"github.com/taegeonum/onyx/common/log/hooks"
	"github.com/taegeonum/onyx/internal/blockmanager"
	"github.com/taegeonum/onyx/internal/config"
	"github.com/taegeonum/onyx/internal/gateway"
	"github.com/taegeonum/onyx/internal/idgen"
	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/policy"
	"github.com/taegeonum/onyx/internal/schederror"
	"github.com/taegeonum/onyx/internal/scheduler"
	"github.com/taegeonum/onyx/internal/stats"
)

var (
	configSelector string
	configFile     string
	logLevel       string
	demoStageCount int
	demoTaskGroups int
	demoExecutors  int
	demoCapacity   int
)

func main() {
	onyxlog.AddHook(hooks.NewContextHook())

	rootCmd := &cobra.Command{
		Use:               "onyx-scheduler",
		Short:             "onyx-scheduler runs a BatchSingleJobScheduler against a simulated executor pool",
		PersistentPreRunE: initLogging,
	}
	rootCmd.PersistentFlags().StringVar(&configSelector, "config", "default", "built-in config selector (default|local)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config_file", "", "optional JSON file overlaying the selected built-in config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log everything at this level and above (error|info|debug)")

	rootCmd.AddCommand(newRunDemoCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		var exitErr *schederror.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.GetExitCode())
		}
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// newRunDemoCmd builds the "rundemo" subcommand: it schedules a
// generated DAG against an in-process gateway that simulates executor
// RPCs, so the full scheduling path can be driven without a cluster.
func newRunDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rundemo",
		Short: "schedule a generated job against a simulated executor pool and wait for it to finish",
		RunE:  runDemo,
	}
	cmd.Flags().IntVar(&demoStageCount, "stages", 3, "number of pipeline stages to generate")
	cmd.Flags().IntVar(&demoTaskGroups, "taskgroups", 4, "task groups per stage")
	cmd.Flags().IntVar(&demoExecutors, "executors", 5, "number of simulated executors")
	cmd.Flags().IntVar(&demoCapacity, "capacity", 4, "task-group slots per simulated executor")
	return cmd
}

func runDemo(cmd *cobra.Command, args []string) error {
	jsonCfg, err := config.Load(configSelector, configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	schedCfg := jsonCfg.ToSchedulerConfig()
	defaultLabel := jsonCfg.DefaultExecutorLabelValue()

	stat := stats.Default()
	ids := idgen.NewUUIDAllocator()
	pol := policy.NewCapacityLabelPolicy()
	bmm := blockmanager.NewInMemory()
	bus := scheduler.NewEventBus()
	gw := gateway.NewLocal()
	defer gw.Close()

	sched, err := scheduler.New(schedCfg, ids.NewID(), pol, bmm, bus, gw, stat)
	if err != nil {
		return fmt.Errorf("constructing scheduler: %w", err)
	}
	gw.SetReporter(sched.OnTaskGroupStateChanged)

	for i := 0; i < demoExecutors; i++ {
		executorID := fmt.Sprintf("executor-%d", i)
		sched.OnExecutorAdded(executorID, demoCapacity, defaultLabel)
	}

	p := generateDemoPlan(ids, demoStageCount, demoTaskGroups)
	log.WithFields(log.Fields{
		"planId": p.ID, "stages": len(p.Stages), "executors": demoExecutors,
	}).Info("scheduling generated demo job")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := sched.ScheduleJob(ctx, p); err != nil {
		if schederror.IsFatal(err) {
			return schederror.NewExitError(fmt.Errorf("scheduling job: %w", err), 2)
		}
		return fmt.Errorf("scheduling job: %w", err)
	}

	for {
		switch state := sched.JobState(); state {
		case plan.JobComplete:
			log.Info("job completed")
			fmt.Println(string(stat.Render(true)))
			return nil
		case plan.JobFailed:
			return schederror.NewExitError(fmt.Errorf("job failed"), 2)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// generateDemoPlan builds a linear pipeline of stageCount stages, each
// with tgPerStage task groups and no cross edges beyond stage
// adjacency, enough to exercise the scheduler's schedule-group ordering
// without a real IR compiler in front of it.
func generateDemoPlan(ids idgen.Allocator, stageCount, tgPerStage int) *plan.PhysicalPlan {
	p := &plan.PhysicalPlan{ID: ids.NewID()}
	var prevStageID string
	for si := 0; si < stageCount; si++ {
		stage := &plan.PhysicalStage{
			ID:                 fmt.Sprintf("stage-%d", si),
			ScheduleGroupIndex: si,
		}
		for ti := 0; ti < tgPerStage; ti++ {
			tg := &plan.TaskGroup{
				ID:      fmt.Sprintf("%s-tg-%d", stage.ID, ti),
				StageID: stage.ID,
				Tasks: []*plan.Task{{
					ID:         fmt.Sprintf("%s-tg-%d-task-0", stage.ID, ti),
					IRVertexID: fmt.Sprintf("vertex-%d", si),
				}},
			}
			stage.TaskGroups = append(stage.TaskGroups, tg)
		}
		p.Stages = append(p.Stages, stage)
		if prevStageID != "" {
			p.Edges = append(p.Edges, plan.PhysicalStageEdge{FromStageID: prevStageID, ToStageID: stage.ID})
		}
		prevStageID = stage.ID
	}
	return p
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
