package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// configTemplate is the scaffold written by init. Every field the validator
// requires is present so the file runs after only the URL is filled in.
const configTemplate = `datasetId: %[1]s
provider: example-provider
frequency: daily
unit: count

source:
  kind: http
  url: https://example.com/%[1]s.csv
  format: csv

parse:
  plugin: generic_csv

normalize:
  plugin: generic
  primaryKeys:
    - internal_series_code
    - obs_time

# lockTable: tidemark-locks
# notify:
#   topicArn: arn:aws:sns:us-east-1:123456789012:dataset-updates
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init [dataset-id]",
		Short: "Scaffold a dataset config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "configs", "directory for the config file")
	return cmd
}

func runInit(datasetID, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, datasetID+".yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	body := fmt.Sprintf(configTemplate, datasetID)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	color.Green("Created %s", path)
	fmt.Println("Edit source.url and primaryKeys, then run:")
	fmt.Printf("  tidemark run %s --bucket <bucket>\n", path)
	return nil
}
