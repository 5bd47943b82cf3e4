package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/internal/store"
)

func reportsCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reports [SESSION_ID]",
		Short: "List saved reports, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if len(args) == 1 {
				r, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if r == nil {
					return fmt.Errorf("report %s not found", args[0])
				}
				return printJSON(cmd.OutOrStdout(), r)
			}

			list, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCATEGORY\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.SessionID, s.Category, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of reports to list")
	return cmd
}
