package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/internal/workspace"
)

func newRmCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete a computer's record and data directory",
		Long:  "Delete a computer's record and data directory. Do not use it on a computer that a running daemon has live.",
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
			if err := st.DeleteComputer(id); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := ws.Delete(id); err != nil {
				return err
			}
			fmt.Printf("removed computer %d\n", id)
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "computer id")
	cmd.MarkFlagRequired("id")
	return cmd
}
