package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentloop/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		scanner := bufio.NewScanner(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "agentloop setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		cfg.LLM.Provider = prompt(scanner, out, "LLM provider (gemini or openai)", cfg.LLM.Provider)
		cfg.LLM.BaseURL = prompt(scanner, out, "LLM base URL (optional)", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, out, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, out, "LLM model name (optional)", cfg.LLM.Model)
		if n, err := strconv.Atoi(prompt(scanner, out, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}
		if n, err := strconv.Atoi(prompt(scanner, out, "Max iterations per run", strconv.Itoa(cfg.MaxIterations))); err == nil {
			cfg.MaxIterations = n
		}
		cfg.Storage = prompt(scanner, out, "History storage (file or sqlite)", cfg.Storage)
		cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Brave.APIKey = prompt(scanner, out, "Brave API key (optional)", cfg.Brave.APIKey)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

// prompt shows label with its default and returns the trimmed input, or the
// default when the input is empty.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
