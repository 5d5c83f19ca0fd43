// ABOUTME: list and score subcommands for inspecting the workflow catalog offline
// ABOUTME: score runs the configured confidence scorer exactly as the served meta-tool does

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/serviceos-chat/internal/config"
	"github.com/2389/serviceos-chat/internal/workflows"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the workflow tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tREQUIRED\tDESCRIPTION")
		for _, d := range workflows.Catalog() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(d.Required, ","), d.Description)
		}
		return tw.Flush()
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score MESSAGE...",
	Short: "Show how a message scores against the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.ToolServerConfig{Temperature: 1.0, Threshold: config.DefaultThreshold}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
		if cfg, err := loadConfig(); err == nil {
			settings = cfg.ToolServer
		}

		scorer := scorerFor(settings, logger)
		scoring := scorer.Score(cmd.Context(), strings.Join(args, " "), workflows.Catalog())
		threshold := settings.Threshold
		out := cmd.OutOrStdout()
		if scoring.Selected == "" {
			fmt.Fprintln(out, color.YellowString("no workflow matched"))
			return nil
		}

		for _, s := range scoring.Ranked() {
			if s.Confidence == 0 {
				continue
			}
			line := fmt.Sprintf("%-32s %.3f", s.Name, s.Confidence)
			if s.Confidence >= threshold {
				line = color.GreenString(line)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
