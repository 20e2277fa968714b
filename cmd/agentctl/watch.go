package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/orchestrator"
)

var watchCmd = &cobra.Command{
	Use:   "watch <test-id>",
	Short: "Run a test case with a live terminal view and inline HITL prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		m := newWatchModel(cmd.Context(), rt.orch, args[0])
		_, err = tea.NewProgram(m).Run()
		return err
	},
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	problemStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type runFinishedMsg struct {
	res orchestrator.RunResult
	err error
}

type tickMsg time.Time

type watchModel struct {
	ctx    context.Context
	orch   *orchestrator.Orchestrator
	testID string

	status    orchestrator.StatusReport
	final     *orchestrator.RunResult
	runErr    error
	input     string
	prompting bool
	done      bool
}

func newWatchModel(ctx context.Context, orch *orchestrator.Orchestrator, testID string) watchModel {
	return watchModel{ctx: ctx, orch: orch, testID: testID}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.startRun(), tick())
}

func (m watchModel) startRun() tea.Cmd {
	return func() tea.Msg {
		res, err := m.orch.RunTest(m.ctx, m.testID, true, 3)
		return runFinishedMsg{res: res, err: err}
	}
}

func (m watchModel) sendGuidance(line string) tea.Cmd {
	return func() tea.Msg {
		coord := parseBareCoordinate(line)
		text := line
		if coord != nil {
			text = ""
		}
		res, err := m.orch.SendGuidance(m.ctx, text, coord, "")
		return runFinishedMsg{res: res, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.status = m.orch.GetStatus()
		if m.done {
			return m, nil
		}
		return m, tick()

	case runFinishedMsg:
		if msg.err != nil && m.prompting {
			// Guidance was rejected; keep prompting.
			m.runErr = msg.err
			return m, nil
		}
		m.runErr = msg.err
		m.final = &msg.res
		m.status = m.orch.GetStatus()
		if msg.res.Status == agentstate.StatusWaitingHITL {
			m.prompting = true
			m.input = ""
			return m, nil
		}
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.orch.Stop()
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.prompting && strings.TrimSpace(m.input) != "" {
				line := strings.TrimSpace(m.input)
				m.prompting = false
				m.input = ""
				return m, m.sendGuidance(line)
			}
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case tea.KeyRunes, tea.KeySpace:
			if m.prompting {
				m.input += msg.String()
			}
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("agentctl watch — "+m.testID) + "\n\n")

	s := m.status
	b.WriteString(fmt.Sprintf("status: %s\n", s.Status))
	if s.TotalSteps > 0 {
		b.WriteString(fmt.Sprintf("steps:  %d/%d\n", s.CurrentStep, s.TotalSteps))
	}
	if s.Paused {
		b.WriteString(statusStyle.Render("paused") + "\n")
	}

	if m.prompting {
		b.WriteString("\n" + problemStyle.Render("needs help: "+s.HITLProblem) + "\n")
		b.WriteString("guidance (text or \"x,y\"): " + m.input + "█\n")
	}

	if m.final != nil && !m.prompting {
		if m.final.Success {
			b.WriteString("\n" + okStyle.Render("run succeeded") + "\n")
		} else {
			b.WriteString(fmt.Sprintf("\nrun ended: %s\n", m.final.Status))
		}
		for _, e := range m.final.Errors {
			b.WriteString(statusStyle.Render("  "+e) + "\n")
		}
	}
	if m.runErr != nil {
		b.WriteString(problemStyle.Render("error: "+m.runErr.Error()) + "\n")
	}

	b.WriteString(statusStyle.Render("\nctrl-c to stop"))
	return b.String()
}
