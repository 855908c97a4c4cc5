// PitchLab Trainer - terminal client for practice sessions
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pitchlab/pitchlab/internal/roleplay"
	"github.com/pitchlab/pitchlab/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trainer",
		Short: "Practice a sales conversation against the PitchLab server",
		Long: `Trainer runs one timed sales roleplay session in the terminal.

It connects to a PitchLab practice server, claims the trainee's single
session, and renders the conversation, the countdown, and the coach's
advice as a TUI.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			logPath, _ := cmd.Flags().GetString("log")
			coachDelay, _ := cmd.Flags().GetDuration("coach-delay")
			return run(serverURL, logPath, coachDelay)
		},
	}

	rootCmd.Flags().StringP("server", "s", "http://localhost:8080", "Practice server base URL")
	rootCmd.Flags().String("log", "", "Write debug logs to this file")
	rootCmd.Flags().Duration("coach-delay", 600*time.Millisecond, "Pause before fetching coach advice after each answer")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(serverURL, logPath string, coachDelay time.Duration) error {
	// The TUI owns the terminal, so logs go to a file or nowhere.
	logOut := io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	backend, err := roleplay.NewHTTPBackend(serverURL)
	if err != nil {
		return err
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := backend.Bootstrap(bootCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}

	ctrl := roleplay.New(backend, roleplay.Config{CoachDelay: coachDelay})
	defer ctrl.Close()

	p := tea.NewProgram(tui.New(ctrl), tea.WithAltScreen())
	ctrl.SetOnChange(func() {
		p.Send(tui.RefreshMsg{})
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
