package cli

import (
	"fmt"
	"strings"

	"github.com/harun/goose/pkg/coretools"
	"github.com/spf13/cobra"
)

var toolkitCmd = &cobra.Command{
	Use:   "toolkit",
	Short: "Inspect the available toolkits",
}

var toolkitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List toolkits and the tools they provide",
	Args:  cobra.NoArgs,
	RunE:  runToolkitList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the goose version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "goose version %s\n", version)
	},
}

func init() {
	toolkitCmd.AddCommand(toolkitListCmd)
	rootCmd.AddCommand(toolkitCmd, versionCmd)
}

func runToolkitList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range coretools.Available() {
		toolkits, err := coretools.Build([]string{name}, coretools.Options{})
		if err != nil {
			return err
		}
		tools := make([]string, 0, len(toolkits[0].Tools))
		for _, tool := range toolkits[0].Tools {
			tools = append(tools, tool.Name)
		}
		fmt.Fprintf(out, "%s: %s\n", name, strings.Join(tools, ", "))
		if err := coretools.CloseAll(toolkits); err != nil {
			return err
		}
	}
	return nil
}
