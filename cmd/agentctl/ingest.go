package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/knowledge"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <cases.xlsx|cases.yaml>",
	Short: "Ingest test cases from a spreadsheet or YAML file into the knowledge store",
	Long: `Ingest reads one test case per spreadsheet row (id, title, component,
steps one per line within the cell, description, expected result) or per
YAML list entry. Ingestion is idempotent by file content hash: a file whose
hash is unchanged produces no new test cases.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		hash := knowledge.HashContent(raw)

		var cases []agentstate.TestCase
		switch strings.ToLower(filepath.Ext(args[0])) {
		case ".yaml", ".yml":
			cases, err = parseYAMLCases(raw, hash)
		default:
			cases, err = parseSpreadsheet(args[0], hash)
		}
		if err != nil {
			return err
		}

		added := 0
		for _, tc := range cases {
			reindexed, err := rt.cases.Upsert(cmd.Context(), tc)
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", tc.ID, err)
			}
			if reindexed {
				added++
			}
		}
		fmt.Printf("%d test cases read, %d indexed (%d unchanged)\n", len(cases), added, len(cases)-added)
		return nil
	},
}

// parseSpreadsheet reads the first sheet, skipping the header row. Columns:
// A=id, B=title, C=component, D=steps (newline-separated), E=description,
// F=expected.
func parseSpreadsheet(path, hash string) ([]agentstate.TestCase, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	var cases []agentstate.TestCase
	for i, row := range rows {
		if i == 0 || len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		tc := agentstate.TestCase{
			ID:         strings.TrimSpace(row[0]),
			Title:      cell(row, 1),
			Component:  cell(row, 2),
			CreatedAt:  time.Now(),
			SourceHash: hash,
		}
		for _, line := range strings.Split(cell(row, 3), "\n") {
			if goal := strings.TrimSpace(line); goal != "" {
				tc.Steps = append(tc.Steps, agentstate.Step{Goal: goal})
			}
		}
		tc.Description = cell(row, 4)
		tc.Expected = cell(row, 5)
		if len(tc.Steps) == 0 {
			continue
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

// yamlCase mirrors the YAML fixture shape: goals as a plain string list.
type yamlCase struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Component   string   `yaml:"component"`
	Steps       []string `yaml:"steps"`
	Description string   `yaml:"description"`
	Expected    string   `yaml:"expected"`
}

func parseYAMLCases(raw []byte, hash string) ([]agentstate.TestCase, error) {
	var parsed []yamlCase
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing YAML cases: %w", err)
	}

	var cases []agentstate.TestCase
	for _, yc := range parsed {
		if yc.ID == "" || len(yc.Steps) == 0 {
			continue
		}
		tc := agentstate.TestCase{
			ID:          yc.ID,
			Title:       yc.Title,
			Component:   yc.Component,
			Description: yc.Description,
			Expected:    yc.Expected,
			CreatedAt:   time.Now(),
			SourceHash:  hash,
		}
		for _, goal := range yc.Steps {
			if goal = strings.TrimSpace(goal); goal != "" {
				tc.Steps = append(tc.Steps, agentstate.Step{Goal: goal})
			}
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}
