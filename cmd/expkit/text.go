package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/pkg/change"
	"github.com/RobinCoderZhao/experience-kit/pkg/differ"
)

func readText(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func diffCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diff BASELINE CURRENT",
		Short: "Word diff of two texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readText(args[0])
			if err != nil {
				return err
			}
			b, err := readText(args[1])
			if err != nil {
				return err
			}
			ops := differ.DiffWords(a, b)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ops": ops, "stats": differ.Count(ops)})
			}

			var sb strings.Builder
			for _, op := range ops {
				switch op.Kind {
				case differ.Insert:
					fmt.Fprintf(&sb, "{+%s+}", op.Text())
				case differ.Delete:
					fmt.Fprintf(&sb, "[-%s-]", op.Text())
				default:
					sb.WriteString(op.Text())
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), sb.String())
			fmt.Fprintln(cmd.OutOrStdout(), differ.Count(ops).Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print ops as JSON")
	return cmd
}

func classifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify BASELINE CURRENT",
		Short: "Classify the edit between two texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := readText(args[0])
			if err != nil {
				return err
			}
			b, err := readText(args[1])
			if err != nil {
				return err
			}
			ch := change.NewClassifier(cfg.Detection.Thresholds).Classify(a, b)
			return printJSON(cmd.OutOrStdout(), ch)
		},
	}
}
