// ABOUTME: Entry point for serviceos-tools, the MCP server exposing the workflow catalog
// ABOUTME: serve runs the Streamable HTTP endpoint; list and score inspect the catalog offline

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:     "serviceos-tools",
	Short:   "Workflow tool server for serviceos-chat",
	Version: version,
	Long: `serviceos-tools serves the clinical workflow catalog over MCP so the chat
server can discover, score and call workflows. Settings come from the
toolserver section of the shared config file.`,
	Example: `  # Serve on the configured address
  $ serviceos-tools serve

  # See which workflows a message would route to
  $ serviceos-tools score "I need to refill my lisinopril"`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (default $SERVICEOS_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(scoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
