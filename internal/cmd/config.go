package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/stage"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect caretaker configuration",
	Long: `Inspect the effective caretaker configuration: the config file merged with
CARETAKER_ environment overrides and defaults.

Examples:
  # Check a config file and list every invalid field
  caretaker config validate --config caretaker.yaml

  # Print the effective configuration with secrets redacted
  caretaker config show`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		var verrs config.ValidationErrors
		if stderrors.As(err, &verrs) {
			fmt.Fprintf(out, "✗ %d invalid field(s):\n", len(verrs))
			for _, ve := range verrs {
				fmt.Fprintf(out, "  • %s\n", ve.Error())
			}
		}
		return err
	}

	printConfigSummary(out, cfg)
	return nil
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "✓ configuration is valid")

	var stages []string
	for _, d := range stage.BuiltinRegistry().Enabled(cfg) {
		stages = append(stages, d.ID)
	}
	var plugins []string
	for _, p := range cfg.Plugins {
		if p.Enabled {
			plugins = append(plugins, p.Name)
		}
	}

	fmt.Fprintf(w, "  repositories: %d\n", len(cfg.Repositories()))
	fmt.Fprintf(w, "  stages:       %s\n", listOrNone(stages))
	fmt.Fprintf(w, "  plugins:      %s\n", listOrNone(plugins))
	fmt.Fprintf(w, "  workers:      %d\n", cfg.Concurrency.MaxWorkers)
	fmt.Fprintf(w, "  schedule:     %s\n", cfg.Schedule.Cron)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	v := config.NewViper(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !stderrors.As(err, &notFound) {
			return errors.Wrap(errors.ErrCodeConfigParse, "failed to read config file", err)
		}
	}

	settings := v.AllSettings()
	redact(settings)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

var secretKeys = map[string]bool{
	"token":             true,
	"api_key":           true,
	"webhook_secret":    true,
	"slack_webhook_url": true,
	"webhook_url":       true,
	"jira_api_token":    true,
}

// redact masks non-empty secret values in a viper settings tree.
func redact(settings map[string]any) {
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]any:
			redact(val)
		case []any:
			for _, item := range val {
				if m, ok := item.(map[string]any); ok {
					redact(m)
				}
			}
		case string:
			if secretKeys[k] && val != "" {
				settings[k] = "********"
			}
		}
	}
}
