package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"workflow"},
		Short:   "Show the visa workflow of every stage type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp map[string]any
			if err := newClient().getJSON(apiPath("/workflows"), nil, &resp); err != nil {
				return err
			}
			if structured() {
				return printOutput(cmd.OutOrStdout(), resp)
			}
			var rows [][]string
			for _, def := range toMapSlice(resp["items"]) {
				steps := toMapSlice(def["steps"])
				roles := make([]string, 0, len(steps))
				for _, s := range steps {
					role := extractValue(s, "role")
					if alt := extractValue(s, "alternativeRole"); alt != "" {
						role += "|" + alt
					}
					if floor := extractValue(s, "minAmount"); floor != "" {
						role += ">=" + floor
					}
					if extractValue(s, "optional") == "true" {
						role += "?"
					}
					roles = append(roles, role)
				}
				rows = append(rows, []string{
					extractValue(def, "stage"),
					extractValue(def, "displayName"),
					strconv.Itoa(len(steps)),
					strings.Join(roles, " > "),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Stage", "Name", "Steps", "Roles"}, rows)
			return nil
		},
	}
}
