package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/internal/editor"
	"github.com/RobinCoderZhao/experience-kit/internal/flow"
	"github.com/RobinCoderZhao/experience-kit/internal/store"
	"github.com/RobinCoderZhao/experience-kit/pkg/change"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	var answersPath, category string
	var autoAccept, save bool

	cmd := &cobra.Command{
		Use:   "watch REPORT",
		Short: "Live-edit a report file",
		Long:  "Enriches the report, writes the enriched text back to the file, then follows every save. Ctrl-C commits the last save and prints the session.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := appconfig.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path := args[0]
			original, err := readText(path)
			if err != nil {
				return err
			}
			answers, err := readAnswers(answersPath)
			if err != nil {
				return err
			}
			collab, err := newCollaborators(cfg)
			if err != nil {
				return err
			}
			defer collab.Close()

			opts := []flow.Option{flow.WithNotifier(newDispatcher(cfg))}
			if collab.reAnalyzer != nil {
				opts = append(opts, flow.WithReAnalyzer(collab.reAnalyzer))
			}
			if save {
				st, err := store.Open(ctx, cfg.Storage)
				if err != nil {
					return fmt.Errorf("open store: %w", err)
				}
				defer st.Close()
				opts = append(opts, flow.WithSaver(st))
			}

			f, err := flow.Start(ctx, cfg.FlowSettings(), collab.enricher, flow.Input{
				OriginalText: original,
				Category:     category,
				Answers:      answers,
			}, opts...)
			if err != nil {
				return err
			}
			defer f.Close()

			var pending sync.WaitGroup
			if autoAccept && collab.reAnalyzer != nil {
				f.OnReAnalysisNeeded(func(change.TextChange) {
					pending.Add(1)
					go func() {
						defer pending.Done()
						if err := f.AcceptReAnalysis(ctx); err != nil {
							slog.Warn("auto re-analysis failed", "error", err)
						}
					}()
				})
			}

			if current := f.CurrentText(); current != original {
				if err := os.WriteFile(path, []byte(current), 0o644); err != nil {
					return fmt.Errorf("write enriched report: %w", err)
				}
			}

			w, err := editor.New(path, f)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			slog.Info("editing report; press Ctrl-C to finish", "path", w.Path(), "session", f.ID())

			<-ctx.Done()
			stopErr := w.Stop()
			pending.Wait()

			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := f.Flush(flushCtx); err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), f.Snapshot()); err != nil {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().StringVar(&answersPath, "answers", "", "JSON file with follow-up answers")
	cmd.Flags().StringVar(&category, "category", "", "initial report category")
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "accept re-analysis prompts automatically")
	cmd.Flags().BoolVar(&save, "save", false, "save the session to the report store on exit")
	return cmd
}
