package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "rebuild [kind...]",
		Short:     "Renumber tree tables (all of them when no kind is given)",
		ValidArgs: treeKindNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := tree.Kinds
			if len(args) > 0 {
				kinds = kinds[:0:0]
				for _, arg := range args {
					k, err := tree.ParseKind(arg)
					if err != nil {
						return err
					}
					kinds = append(kinds, k)
				}
			}

			database, err := openDatabase(a.cfg.DB)
			if err != nil {
				return err
			}
			defer database.Close()

			svc := service.New(database, history.New(a.cfg.Labels, a.logger), nil, a.logger)
			for _, k := range kinds {
				changed, err := svc.RebuildTree(cmd.Context(), k)
				if err != nil {
					return fmt.Errorf("rebuilding %s: %w", k, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows renumbered\n", k, changed)
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <serial>",
		Short: "Print the action history of an inventory item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(a.cfg.DB)
			if err != nil {
				return err
			}
			defer database.Close()

			inv, err := store.GetInventoryBySerial(cmd.Context(), database, args[0])
			if err != nil {
				return err
			}
			if inv == nil {
				return fmt.Errorf("no inventory item with serial %s", args[0])
			}

			svc := service.New(database, history.New(a.cfg.Labels, a.logger), nil, a.logger)
			actions, err := svc.History(cmd.Context(), model.InventorySubject(inv.ID), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tACTION\tUSER\tLOCATION\tDETAIL")
			for _, act := range actions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					act.CreatedAt.Format("2006-01-02 15:04"), act.Kind.Display(), act.Username, act.LocationName, act.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n actions")
	return cmd
}

func treeKindNames() []string {
	names := make([]string, len(tree.Kinds))
	for i, k := range tree.Kinds {
		names[i] = string(k)
	}
	return names
}
