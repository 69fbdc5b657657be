package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newVisasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "visas",
		Aliases: []string{"visa"},
		Short:   "Visa steps awaiting a decision",
	}
	var limit int
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List the open steps the caller's roles may decide",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("pageSize", strconv.Itoa(limit))
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath("/visas/pending"), q, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, []column{
				{"Stage", "entityType"},
				{"Entity", "entityId"},
				{"Step", "stepOrder"},
				{"Role", "role"},
				{"Label", "label"},
				{"Due", "dueAt"},
			})
		},
	}
	pending.Flags().IntVar(&limit, "limit", 0, "Maximum number of steps to return")
	cmd.AddCommand(pending)
	return cmd
}
