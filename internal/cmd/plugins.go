package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect analysis plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in plugins and the configured plugin entries",
	Long: `List the built-in plugins and every configured plugin entry with the state
the plugin host resolves it to: active, disabled or invalid.`,
	Args: cobra.NoArgs,
	RunE: runPluginsList,
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	printPlugins(cmd.OutOrStdout(), plugin.DefaultRegistry(), cfg.Plugins, logger)
	return nil
}

func printPlugins(w io.Writer, reg *plugin.Registry, cfgs []config.PluginConfig, logger *log.Logger) {
	fmt.Fprintln(w, "Built-in plugins:")
	for _, name := range reg.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}

	host := plugin.NewHost(reg, cfgs, logger)
	active := make(map[string]plugin.Descriptor)
	for _, d := range host.Descriptors() {
		active[d.Name] = d
	}

	fmt.Fprintln(w, "\nConfigured plugins:")
	if len(cfgs) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tKIND\tSTATE\tDETAIL")
	for _, c := range cfgs {
		state, detail := "disabled", ""
		if d, ok := active[c.Name]; ok {
			state, detail = "active", "built-in"
			if d.Kind == config.PluginKindExec {
				m, err := plugin.LoadManifest(d.Manifest)
				if err != nil {
					state, detail = "invalid", err.Error()
				} else {
					detail = fmt.Sprintf("%s %s (%s)", m.Name, m.Version, m.Entrypoint)
				}
			}
		} else if c.Enabled {
			state = "invalid"
			detail = "see logs"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Name, c.Kind, state, detail)
	}
	_ = tw.Flush()
}
