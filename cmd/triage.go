// File: cmd/triage.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/ingest"
	"github.com/xkilldash9x/mahoraga/internal/observability"
	"github.com/xkilldash9x/mahoraga/internal/service"
)

// newTriageCommand runs the pipeline once over a local input and prints the
// result as JSON. No webhook server, no worker pool.
func newTriageCommand(getConfig func() config.Interface) *cobra.Command {
	var (
		inputPath string
		format    string
		repoPath  string
		language  string
	)

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Triage a single report from a file or stdin",
		Example: `  mahoraga triage --file crash.log --repo ~/src/app
  mahoraga triage --file report.xml --format junit
  cat crash.log | mahoraga triage --repo .`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if repoPath != "" {
				cfg.SetRepoPath(repoPath)
			}
			cfg.SetJobConfig(config.JobConfig{
				InputPath: inputPath,
				Format:    format,
				RepoPath:  repoPath,
				Language:  language,
			})
			return runTriage(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&inputPath, "file", "f", "-", `input file ("-" reads stdin)`)
	cmd.Flags().StringVar(&format, "format", "auto", "input format: auto, crash, junit, or github")
	cmd.Flags().StringVarP(&repoPath, "repo", "r", "", "path to the repository the report belongs to")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language hint for trace parsing (python, javascript, java, go)")
	return cmd
}

func runTriage(ctx context.Context, cfg config.Interface, out io.Writer) error {
	job := cfg.Job()

	payload, err := readInput(job.InputPath)
	if err != nil {
		return err
	}

	adapter, err := pickAdapter(job.Format, payload)
	if err != nil {
		return err
	}
	reports, err := adapter.Normalize(payload)
	if err != nil {
		return fmt.Errorf("failed to normalize input as %s: %w", adapter.Source(), err)
	}
	if len(reports) == 0 {
		return fmt.Errorf("input contained no triageable report")
	}

	components, err := service.Build(ctx, cfg, observability.GetLogger())
	if err != nil {
		return err
	}
	defer components.Shutdown()

	results := make([]*schemas.TriageResult, 0, len(reports))
	for _, report := range reports {
		report.HintLanguage = schemas.ParseSourceLanguage(job.Language)
		result, err := components.Pipeline.Run(ctx, report)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if len(results) == 1 {
		return encoder.Encode(results[0])
	}
	return encoder.Encode(results)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}

// pickAdapter maps the --format flag to an ingest adapter, sniffing the
// payload when the format is auto.
func pickAdapter(format string, payload []byte) (ingest.Adapter, error) {
	switch strings.ToLower(format) {
	case "crash", "text":
		return ingest.NewCrashLogAdapter(), nil
	case "junit":
		return ingest.NewJUnitAdapter(), nil
	case "github":
		return ingest.NewGithubAdapter(), nil
	case "", "auto":
		trimmed := bytes.TrimSpace(payload)
		switch {
		case bytes.HasPrefix(trimmed, []byte("<")):
			return ingest.NewJUnitAdapter(), nil
		case bytes.HasPrefix(trimmed, []byte("{")):
			return ingest.NewGithubAdapter(), nil
		default:
			return ingest.NewCrashLogAdapter(), nil
		}
	default:
		return nil, fmt.Errorf("unknown input format %q (supported: auto, crash, junit, github)", format)
	}
}
