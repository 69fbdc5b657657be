package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var auditColumns = []column{
	{"At", "createdAt"},
	{"Actor", "actor"},
	{"As", "actedAs"},
	{"Event", "eventType"},
	{"Entity", "entityType"},
	{"Entity ID", "entityId"},
	{"Action", "action"},
	{"Outcome", "outcome"},
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Browse the audit trail",
	}
	cmd.AddCommand(newAuditListCmd(), newAuditGetCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		actor, entityType, entityID, action, eventType, pageToken string
		forced                                                    bool
		pageSize                                                  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{
				"actor":      actor,
				"entityType": entityType,
				"entityId":   entityID,
				"action":     action,
				"eventType":  eventType,
				"pageToken":  pageToken,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if cmd.Flags().Changed("forced") {
				q.Set("forced", strconv.FormatBool(forced))
			}
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath("/audit/events"), q, &resp); err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), resp, toMapSlice(resp["events"]), auditColumns)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Only events of this principal")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Only events on this entity type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Only events on this entity")
	cmd.Flags().StringVar(&action, "action", "", "Only events of this action")
	cmd.Flags().StringVar(&eventType, "event-type", "", "Only events of this type")
	cmd.Flags().BoolVar(&forced, "forced", false, "Only forced (true) or unforced (false) events")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Maximum number of events to return")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token of the page to return")
	return cmd
}

func newAuditGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [event-id]",
		Short: "Show an audit event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev map[string]any
			if err := newClient().getJSON(apiPath("/audit/events/"+url.PathEscape(args[0])), nil, &ev); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), ev, append(append([]column{}, auditColumns...),
				column{"Reason", "reason"},
				column{"Forced", "forced"},
				column{"Request", "requestId"},
			))
		},
	}
}
