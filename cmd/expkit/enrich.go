package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

func enrichCmd(flags *globalFlags) *cobra.Command {
	var answersPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enrich REPORT",
		Short: "Enrich a report and show where each span came from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			cfg, err := appconfig.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			original, err := readText(args[0])
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

			res, err := collab.enricher.Enrich(ctx, enrich.EnrichInput{OriginalText: original, Answers: answers})
			if err != nil {
				return fmt.Errorf("enrich report: %w", err)
			}
			segs, err := res.Derive(original)
			if err != nil {
				return fmt.Errorf("derive segments: %w", err)
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), segs)
			}
			out := cmd.OutOrStdout()
			for _, s := range segs {
				switch s.Type {
				case segment.Original:
					fmt.Fprint(out, s.Text)
				default:
					label := "ai"
					if s.Source != nil && s.Source.Label != "" {
						label = s.Source.Label
					}
					fmt.Fprintf(out, "[%s: %s]", label, s.Text)
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&answersPath, "answers", "", "JSON file with follow-up answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print segments as JSON")
	return cmd
}
