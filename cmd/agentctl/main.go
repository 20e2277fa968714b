// Command agentctl drives the UI-test agent from a terminal: run test
// cases, execute free-form commands, answer human-in-the-loop prompts,
// ingest test-case spreadsheets, maintain device profiles, and expose the
// orchestrator as an MCP tool surface.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/orchestrator"
)

var version = "dev"

var (
	flagConfig     string
	flagMaxRetries int
	flagNoLearned  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agentctl",
	Short:   "UI-test agent for Android Automotive head units",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a config file (defaults apply when omitted)")

	runCmd.Flags().IntVar(&flagMaxRetries, "max-retries", 3, "per-step retry budget")
	runCmd.Flags().BoolVar(&flagNoLearned, "no-learned", false, "ignore any learned solution and re-perceive every step")
	execCmd.Flags().IntVar(&flagMaxRetries, "max-retries", 3, "per-step retry budget")

	rootCmd.AddCommand(runCmd, execCmd, statusCmd, profilesCmd, ingestCmd, historyCmd, mcpCmd, watchCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <test-id>",
	Short: "Run a test case by id, answering HITL prompts interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		res, err := rt.orch.RunTest(cmd.Context(), args[0], !flagNoLearned, flagMaxRetries)
		if err != nil {
			return err
		}
		return driveToCompletion(cmd.Context(), rt.orch, res)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <command...>",
	Short: "Execute a free-form natural-language command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		res, err := rt.orch.ExecuteCommand(cmd.Context(), strings.Join(args, " "), flagMaxRetries)
		if err != nil {
			return err
		}
		return driveToCompletion(cmd.Context(), rt.orch, res)
	},
}

// driveToCompletion prints the run result and, while the run is suspended
// for guidance, prompts the operator on stdin and feeds the answer back in.
func driveToCompletion(ctx context.Context, orch *orchestrator.Orchestrator, res orchestrator.RunResult) error {
	reader := bufio.NewReader(os.Stdin)
	for res.Status == agentstate.StatusWaitingHITL {
		status := orch.GetStatus()
		fmt.Printf("\nrun suspended: %s\n", status.HITLProblem)
		fmt.Print("guidance (text, \"x,y\" coordinate, or \"stop\"): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			orch.Stop()
			break
		}
		line = strings.TrimSpace(line)
		if line == "stop" || line == "" {
			orch.Stop()
			break
		}

		coord := parseBareCoordinate(line)
		text := line
		if coord != nil {
			text = ""
		}
		res, err = orch.SendGuidance(ctx, text, coord, "")
		if err != nil {
			fmt.Fprintln(os.Stderr, "guidance rejected:", err)
		}
	}
	printResult(res, orch)
	if res.Status == agentstate.StatusFailure {
		return fmt.Errorf("run failed")
	}
	return nil
}

// parseBareCoordinate accepts "850,450" style input as a coordinate.
func parseBareCoordinate(line string) *agentstate.Coordinate {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return nil
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return nil
	}
	return &agentstate.Coordinate{X: x, Y: y, Source: agentstate.SourceHITL, Confidence: 100}
}

func printResult(res orchestrator.RunResult, orch *orchestrator.Orchestrator) {
	fmt.Printf("\nstatus:  %s\nsteps:   %d/%d\nrun id:  %s\n", res.Status, res.StepsCompleted, res.TotalSteps, res.RunID)
	for _, e := range res.Errors {
		fmt.Println("error:  ", e)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device connectivity and data-store summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		if rt.driver.Connected(cmd.Context()) {
			info := rt.driver.DeviceInfo(cmd.Context())
			fmt.Printf("device:  %s (%s, Android %s, %dx%d)\n", info.Serial, info.Model, info.OSVersion, info.Width, info.Height)
		} else {
			fmt.Println("device:  not connected")
		}
		entries, err := rt.recorder.Index(0, 5)
		if err == nil {
			fmt.Printf("history: %d recent runs\n", len(entries))
			for _, e := range entries {
				fmt.Printf("  %s  %-12s %s (%d passed / %d failed)\n", e.StartedAt.Format("2006-01-02 15:04"), e.Status, e.TestID, e.StepsPassed, e.StepsFailed)
			}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, or dump one run as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			run, ok := rt.recorder.Run(args[0])
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		entries, err := rt.recorder.Index(0, 20)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-12s %-10s %s\n", e.RunID, e.Status, e.TestID, e.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}
