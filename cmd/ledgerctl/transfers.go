package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

const transfersPath = "/transfers"

var transferColumns = []column{
	{"ID", "id"},
	{"Numero", "numero"},
	{"From", "sourceLineId"},
	{"To", "destLineId"},
	{"Amount", "amount"},
	{"Status", "status"},
	{"Executed", "executedAt"},
}

func newTransfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transfers",
		Aliases: []string{"transfer", "reamenagements"},
		Short:   "Manage credit transfers between budget lines",
	}
	cmd.AddCommand(
		newTransfersListCmd(),
		newTransfersGetCmd(),
		newTransfersProposeCmd(),
		newTransfersResumeCmd(),
		newDecideCmd(transfersPath, "decisions", "Record a visa decision on a transfer"),
		newStepsCmd(transfersPath, "steps"),
		newStepViewCmd(transfersPath, "step-view"),
	)
	return cmd
}

func newTransfersListCmd() *cobra.Command {
	var (
		filter, pageToken, line, status string
		pageSize                        int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credit transfers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := pageQuery(filter, pageSize, pageToken)
			if line != "" {
				q.Set("lineId", line)
			}
			if status != "" {
				q.Set("status", status)
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath(transfersPath), q, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, transferColumns)
		},
	}
	addPageFlags(cmd, &filter, &pageSize, &pageToken)
	cmd.Flags().StringVar(&line, "line", "", "Only transfers from or to this line")
	cmd.Flags().StringVar(&status, "status", "", "Only transfers in this status")
	return cmd
}

func newTransfersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a credit transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t map[string]any
			if err := newClient().getJSON(apiPath(transfersPath+"/"+url.PathEscape(args[0])), nil, &t); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), t, append(append([]column{}, transferColumns...),
				column{"Justification", "justification"},
				column{"Source Before", "sourceBefore"},
				column{"Source After", "sourceAfter"},
				column{"Dest Before", "destBefore"},
				column{"Dest After", "destAfter"},
			))
		},
	}
}

func newTransfersProposeCmd() *cobra.Command {
	var from, to, amount, justification, note string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose moving credit from one line to another",
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			body := map[string]any{
				"sourceLineId":  from,
				"destLineId":    to,
				"amount":        value,
				"justification": justification,
			}
			if note != "" {
				body["referenceNote"] = note
			}
			var t map[string]any
			if err := newClient().postJSON(apiPath(transfersPath), body, &t); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), t, transferColumns)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source line ID")
	cmd.Flags().StringVar(&to, "to", "", "Destination line ID")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to move")
	cmd.Flags().StringVar(&justification, "justification", "", "Justification")
	cmd.Flags().StringVar(&note, "note", "", "Reference of the supporting note")
	for _, f := range []string{"from", "to", "amount", "justification"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newTransfersResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a deferred transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newClient().postJSON(apiPath(transfersPath+"/"+url.PathEscape(args[0])+":resume"), map[string]any{}, &resp); err != nil {
				return fmt.Errorf("resume failed: %w", err)
			}
			if inner, ok := resp["entity"].(map[string]any); ok && !structured() {
				resp = inner
			}
			return printObject(cmd.OutOrStdout(), resp, transferColumns)
		},
	}
}
