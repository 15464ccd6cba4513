package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lexiqai/convo-coach/internal/app"
	"github.com/lexiqai/convo-coach/internal/config"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/session"
	"github.com/spf13/cobra"
)

type analyzeFlags struct {
	title       string
	user        string
	memoryStore bool
	output      string
	timeout     time.Duration
	progress    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Transcribe and analyze a recorded conversation",
		Long: "Replays a recorded conversation through the transcription and analysis pipeline, " +
			"stores the result and prints the analysis record as JSON.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, args[0], f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&f.title, "title", "", "conversation title (defaults to the start time)")
	cmd.Flags().StringVar(&f.user, "user", "", "owner of the stored record")
	cmd.Flags().BoolVar(&f.memoryStore, "memory-store", false, "keep the record in memory instead of MinIO and Postgres")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the record to a file instead of stdout")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Minute, "give up after this long")
	cmd.Flags().BoolVar(&f.progress, "progress", true, "report progress on stderr")
	return cmd
}

func runAnalyze(ctx context.Context, path string, f analyzeFlags, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}
	if int64(len(data)) > cfg.MaxUploadBytes() {
		return fmt.Errorf("recording is %d bytes, limit is %d", len(data), cfg.MaxUploadBytes())
	}

	review := false
	pipeline, err := app.Build(ctx, cfg, app.BuildOptions{MemoryStore: f.memoryStore, Review: &review})
	if err != nil {
		return err
	}
	defer pipeline.Close()
	controller := pipeline.Controller

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.progress {
		updates, unsubscribe := controller.Subscribe()
		defer unsubscribe()
		go reportProgress(updates, stderr)
	}

	snap, err := controller.StartFile(ctx, data, filepath.Base(path), session.StartOptions{UserID: f.user, Title: f.title})
	if err != nil {
		return err
	}
	logger.Info().Str("session_id", snap.SessionID).Str("file", path).Msg("Analyzing recording")

	final, err := controller.Wait(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if final.Record == nil {
		return fmt.Errorf("session ended in %s without a record", final.State)
	}

	out := stdout
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(final.Record)
}

func reportProgress(updates <-chan session.Snapshot, w io.Writer) {
	last := -1
	for s := range updates {
		if s.Progress != last && s.Phase != "" {
			fmt.Fprintf(w, "\r%-14s %3d%%", s.Phase, s.Progress)
			last = s.Progress
		}
		if s.State == session.StateDone || (s.State == session.StateIdle && s.Error != nil) {
			fmt.Fprintln(w)
			return
		}
	}
}
