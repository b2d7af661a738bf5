package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/internal/workspace"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List stored computers with their disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.New(cfg.DBPath, 1)
			if err != nil {
				return err
			}
			defer st.Close()
			ws, err := workspace.NewManager(cfg.DataDir)
			if err != nil {
				return err
			}
			return listComputers(st, ws)
		},
	}
}

func listComputers(st *store.Store, ws *workspace.Manager) error {
	records, err := st.ListComputers()
	if err != nil {
		return err
	}
	dirs, err := ws.List()
	if err != nil {
		return err
	}
	usage := make(map[int]int64, len(dirs))
	for _, d := range dirs {
		usage[d.ID] = d.SizeBytes
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTATUS\tBOOTS\tDISK\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Label, r.Status, r.BootCount, workspace.HumanSize(usage[r.ID]), r.LastError)
	}
	return tw.Flush()
}
