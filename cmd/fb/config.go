package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/config"
	"github.com/feedbackkit/fb/internal/ui"
	"github.com/feedbackkit/fb/internal/validation"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage fb settings stored in ~/.config/fb/config.yaml.

Every key can also be set through the environment: api.url is FB_API_URL,
jira.api_token is FB_JIRA_API_TOKEN.

Examples:
  fb config set api.url https://feedback.example.com
  fb config set jira.status_map.resolved Done
  fb config get api.url
  fb config list jira`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if !config.IsSettable(key) {
			fail(validation.New("key", "%q is not a settable key", key))
		}
		if err := config.Set(key, value); err != nil {
			fail(err)
		}
		if err := config.Save(); err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": redact(key, value)})
			return
		}
		fmt.Printf("%s %s = %s\n", ui.RenderPassIcon(), key, redact(key, value))
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value := config.GetString(args[0])
		if reveal, _ := cmd.Flags().GetBool("reveal"); !reveal {
			value = redact(args[0], value)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": value})
			return
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List configuration values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		flat := config.Flat(prefix)
		keys := config.Keys(prefix)
		for _, k := range keys {
			flat[k] = redact(k, flat[k])
		}
		if jsonOutput {
			outputJSON(flat)
			return
		}
		fmt.Println(ui.RenderMuted("# " + config.Path()))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, flat[k])
		}
		_ = w.Flush()
	},
}

var secretSuffixes = []string{"token", "secret", "private_key", "api_key", ".key", "password"}

// redact hides secret values on output, keeping the last four characters.
func redact(key, value string) string {
	if value == "" {
		return value
	}
	k := strings.ToLower(key)
	for _, s := range secretSuffixes {
		if strings.HasSuffix(k, s) {
			if len(value) <= 4 {
				return "****"
			}
			return "****" + value[len(value)-4:]
		}
	}
	return value
}

func init() {
	configGetCmd.Flags().Bool("reveal", false, "Print secret values unredacted")
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
