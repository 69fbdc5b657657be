package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// stage describes one link of the expenditure chain as exposed by the API.
type stage struct {
	Name    string
	Aliases []string
	Short   string
	Path    string
	// Parent names the entity a new one is created against.
	Parent  string
	Columns []column
	// Flags adds the stage-specific creation flags and returns a function
	// copying their values into the request body.
	Flags func(cmd *cobra.Command) func(cmd *cobra.Command, body map[string]any) error
	// Extra adds subcommands only this stage has.
	Extra func(cmd *cobra.Command, s stage)
}

var stageColumns = []column{
	{"ID", "id"},
	{"Numero", "numero"},
	{"Line", "lineId"},
	{"Amount", "amount"},
	{"Status", "status"},
	{"Step", "currentStep"},
	{"Of", "totalSteps"},
	{"Frozen", "frozen"},
}

var stepColumns = []column{
	{"Step", "stepOrder"},
	{"Role", "role"},
	{"Label", "label"},
	{"Status", "status"},
	{"By", "actedBy"},
	{"As", "actedAs"},
	{"Due", "dueAt"},
}

var stepViewColumns = []column{
	{"Status", "status"},
	{"Step", "step"},
	{"Of", "totalSteps"},
	{"Role", "role"},
	{"Alternative", "alternativeRole"},
	{"Authorized", "authorized"},
	{"Can Visa", "canVisa"},
	{"Blocked By", "blockReason"},
	{"Can Auto Reject", "canAutoReject"},
	{"Due", "dueAt"},
}

var commitmentsStage = stage{
	Name:    "commitments",
	Aliases: []string{"commitment", "engagements"},
	Short:   "Manage commitments (engagements) against budget lines",
	Path:    "/commitments",
	Parent:  "budget line",
	Columns: append(append([]column{}, stageColumns...), column{"Beneficiary", "beneficiary"}),
}

var verificationsStage = stage{
	Name:    "verifications",
	Aliases: []string{"verification", "liquidations"},
	Short:   "Manage verifications (liquidations) of commitments",
	Path:    "/verifications",
	Parent:  "commitment",
	Columns: append(append([]column{}, stageColumns...), column{"Net", "netAmount"}, column{"Urgent", "urgent"}),
	Extra:   addUrgencyCommands,
	Flags: func(cmd *cobra.Command) func(*cobra.Command, map[string]any) error {
		var tva, airsi, source, bic, bnc string
		cmd.Flags().StringVar(&tva, "tva", "", "VAT withheld")
		cmd.Flags().StringVar(&airsi, "airsi", "", "AIRSI withheld")
		cmd.Flags().StringVar(&source, "retenue-source", "", "Withholding tax")
		cmd.Flags().StringVar(&bic, "retenue-bic", "", "BIC withholding")
		cmd.Flags().StringVar(&bnc, "retenue-bnc", "", "BNC withholding")
		return func(cmd *cobra.Command, body map[string]any) error {
			w := map[string]any{}
			for flag, key := range map[string]string{"tva": "tva", "airsi": "airsi", "retenue-source": "retenueSource", "retenue-bic": "retenueBic", "retenue-bnc": "retenueBnc"} {
				if !cmd.Flags().Changed(flag) {
					continue
				}
				raw, _ := cmd.Flags().GetString(flag)
				v, err := parseAmount(flag, raw)
				if err != nil {
					return err
				}
				w[key] = v
			}
			if len(w) > 0 {
				body["withholdings"] = w
			}
			return nil
		}
	},
}

var paymentOrdersStage = stage{
	Name:    "payment-orders",
	Aliases: []string{"payment-order", "ordonnancements"},
	Short:   "Manage payment orders (ordonnancements) of verifications",
	Path:    "/payment-orders",
	Parent:  "verification",
	Columns: append(append([]column{}, stageColumns...), column{"Signature", "signature.status"}),
	Flags: func(cmd *cobra.Command) func(*cobra.Command, map[string]any) error {
		var countersign bool
		cmd.Flags().BoolVar(&countersign, "require-countersignature", false, "Require the signature circuit before settlement")
		return func(cmd *cobra.Command, body map[string]any) error {
			if cmd.Flags().Changed("require-countersignature") {
				body["requireCountersignature"] = countersign
			}
			return nil
		}
	},
	Extra: addCountersignCommands,
}

var settlementsStage = stage{
	Name:    "settlements",
	Aliases: []string{"settlement", "reglements"},
	Short:   "Manage settlements (règlements) of payment orders",
	Path:    "/settlements",
	Parent:  "payment order",
	Columns: append(append([]column{}, stageColumns...), column{"Mode", "paymentMode"}),
	Flags: func(cmd *cobra.Command) func(*cobra.Command, map[string]any) error {
		var mode, ref string
		cmd.Flags().StringVar(&mode, "payment-mode", "", "Payment mode: virement, cheque or especes")
		cmd.Flags().StringVar(&ref, "payment-reference", "", "Bank or cheque reference")
		return func(_ *cobra.Command, body map[string]any) error {
			if mode != "" {
				body["paymentMode"] = mode
			}
			if ref != "" {
				body["paymentReference"] = ref
			}
			return nil
		}
	},
}

func newStageCmd(s stage) *cobra.Command {
	cmd := &cobra.Command{
		Use:     s.Name,
		Aliases: s.Aliases,
		Short:   s.Short,
	}
	cmd.AddCommand(
		s.listCmd(),
		s.getCmd(),
		s.createCmd(),
		s.actionCmd("submit", "Submit a draft into its visa workflow"),
		s.actionCmd("resume", "Resume a deferred entity at the step it stopped on"),
		s.reasonCmd("cancel", "Cancel a draft", false),
		newDecideCmd(s.Path, "decisions", "Record a visa decision on the current step"),
		newStepsCmd(s.Path, "steps"),
		newStepViewCmd(s.Path, "step-view"),
	)
	if s.Extra != nil {
		s.Extra(cmd, s)
	}
	return cmd
}

func (s stage) entityPath(id string) string {
	return apiPath(s.Path + "/" + url.PathEscape(id))
}

func (s stage) listCmd() *cobra.Command {
	var (
		filter, pageToken, parent, line, status string
		pageSize                                int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List " + s.Name,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := pageQuery(filter, pageSize, pageToken)
			for k, v := range map[string]string{"parentId": parent, "lineId": line, "status": status} {
				if v != "" {
					q.Set(k, v)
				}
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath(s.Path), q, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, s.Columns)
		},
	}
	addPageFlags(cmd, &filter, &pageSize, &pageToken)
	cmd.Flags().StringVar(&parent, "parent", "", "Only children of this "+s.Parent)
	cmd.Flags().StringVar(&line, "line", "", "Only entities of this budget line")
	cmd.Flags().StringVar(&status, "status", "", "Only entities in this status")
	return cmd
}

func (s stage) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one of the " + s.Name,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e map[string]any
			if err := newClient().getJSON(s.entityPath(args[0]), nil, &e); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), e, s.Columns)
		},
	}
}

func (s stage) createCmd() *cobra.Command {
	var (
		parent, amount, beneficiary, purpose, justification string
		documents                                           []string
		forced                                              bool
		fill                                                func(*cobra.Command, map[string]any) error
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft against a " + s.Parent,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			body := map[string]any{"parentId": parent, "amount": value}
			if beneficiary != "" {
				body["beneficiary"] = beneficiary
			}
			if purpose != "" {
				body["purpose"] = purpose
			}
			if len(documents) > 0 {
				body["documents"] = documents
			}
			if forced {
				body["forced"] = true
				body["forceJustification"] = justification
			}
			if fill != nil {
				if err := fill(cmd, body); err != nil {
					return err
				}
			}
			var e map[string]any
			if err := newClient().postJSON(apiPath(s.Path), body, &e); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), e, s.Columns)
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "ID of the "+s.Parent)
	cmd.Flags().StringVar(&amount, "amount", "", "Amount")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "Beneficiary")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Purpose")
	cmd.Flags().StringSliceVar(&documents, "document", nil, "Attached document type (repeatable)")
	cmd.Flags().BoolVar(&forced, "force", false, "Create over the available amount")
	cmd.Flags().StringVar(&justification, "justification", "", "Justification of a forced creation")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("amount")
	if s.Flags != nil {
		fill = s.Flags(cmd)
	}
	return cmd
}

func (s stage) actionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e map[string]any
			if err := newClient().postJSON(s.entityPath(args[0])+":"+action, map[string]any{}, &e); err != nil {
				return fmt.Errorf("%s failed: %w", action, err)
			}
			// resume answers with the entity and the workflow outcome.
			if inner, ok := e["entity"].(map[string]any); ok && !structured() {
				e = inner
			}
			return printObject(cmd.OutOrStdout(), e, s.Columns)
		},
	}
}

// reasonCmd posts an action whose body carries a free-text reason.
func (s stage) reasonCmd(action, short string, required bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   action + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if reason != "" {
				body["reason"] = reason
			}
			var e map[string]any
			if err := newClient().postJSON(s.entityPath(args[0])+":"+action, body, &e); err != nil {
				return fmt.Errorf("%s failed: %w", action, err)
			}
			return printObject(cmd.OutOrStdout(), e, s.Columns)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason")
	if required {
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}

// newDecideCmd posts a decision to base/{id}/sub. It serves the stage
// workflows, transfers and the payment order signature circuit.
func newDecideCmd(base, sub, short string) *cobra.Command {
	var (
		decision, comment, reason, resumeDate string
		step                                  int
	)
	use := "decide"
	if sub != "decisions" {
		use = strings.TrimSuffix(sub, "-decisions") + "-decide"
	}
	cmd := &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"decision": decision, "step": step}
			if comment != "" {
				body["comment"] = comment
			}
			if reason != "" {
				body["reason"] = reason
			}
			if resumeDate != "" {
				t, err := time.Parse("2006-01-02", resumeDate)
				if err != nil {
					return fmt.Errorf("invalid --resume-date %q: use YYYY-MM-DD", resumeDate)
				}
				body["resumeDate"] = t.Format(time.RFC3339)
			}
			var resp map[string]any
			path := apiPath(base + "/" + url.PathEscape(args[0]) + "/" + sub)
			if err := newClient().postJSON(path, body, &resp); err != nil {
				return fmt.Errorf("decision failed: %w", err)
			}
			if structured() {
				return printOutput(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Step %s %s as %s: %s -> %s\n",
				extractValue(resp, "outcome.step"),
				extractValue(resp, "outcome.event"),
				extractValue(resp, "outcome.actedAs"),
				extractValue(resp, "outcome.from.status"),
				extractValue(resp, "outcome.to.status"))
			if r := extractValue(resp, "outcome.reason"); r != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "validate", "Decision: validate, skip, reject, defer or auto_reject")
	cmd.Flags().IntVar(&step, "step", 0, "Step the decision is for")
	cmd.Flags().StringVar(&comment, "comment", "", "Comment")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason of a reject or defer")
	cmd.Flags().StringVar(&resumeDate, "resume-date", "", "Expected resume date of a defer (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func newStepsCmd(base, sub string) *cobra.Command {
	use := "steps"
	if sub != "steps" {
		use = sub
	}
	return &cobra.Command{
		Use:   use + " [id]",
		Short: "List the visa steps of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newClient().getJSON(apiPath(base+"/"+url.PathEscape(args[0])+"/"+sub), nil, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, stepColumns)
		},
	}
}

func newStepViewCmd(base, sub string) *cobra.Command {
	use := "view"
	if sub != "step-view" {
		use = sub
	}
	return &cobra.Command{
		Use:   use + " [id]",
		Short: "Show the current step and whether the caller may act on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view map[string]any
			if err := newClient().getJSON(apiPath(base+"/"+url.PathEscape(args[0])+"/"+sub), nil, &view); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), view, stepViewColumns)
		},
	}
}

func addCountersignCommands(cmd *cobra.Command, s stage) {
	cmd.AddCommand(
		s.actionCmd("countersign-start", "Start the signature circuit of a validated payment order"),
		newDecideCmd(s.Path, "countersign-decisions", "Record a signature decision"),
		newStepsCmd(s.Path, "countersign-steps"),
		newStepViewCmd(s.Path, "countersign-view"),
	)
}

var urgentColumns = []column{
	{"ID", "id"},
	{"Numero", "numero"},
	{"Status", "status"},
	{"Net", "netAmount"},
	{"Reason", "urgentReason"},
	{"By", "urgentBy"},
	{"At", "urgentAt"},
}

func addUrgencyCommands(cmd *cobra.Command, s stage) {
	var (
		pageToken, status string
		pageSize          int
	)
	urgent := &cobra.Command{
		Use:   "urgent",
		Short: "List urgent verifications, most recently flagged first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := pageQuery("", pageSize, pageToken)
			if status != "" {
				q.Set("status", status)
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath(s.Path+"/urgent"), q, &resp); err != nil {
				return err
			}
			if err := printPage(cmd, resp, urgentColumns); err != nil {
				return err
			}
			if !structured() {
				stats, _ := resp["stats"].(map[string]any)
				fmt.Fprintf(cmd.OutOrStdout(), "\nUrgent: %s, awaiting settlement: %s, validated: %s, net: %s\n",
					extractValue(stats, "total"), extractValue(stats, "awaiting"), extractValue(stats, "validated"), extractValue(stats, "netAmount"))
			}
			return nil
		},
	}
	urgent.Flags().IntVar(&pageSize, "page-size", 0, "Maximum number of items to return")
	urgent.Flags().StringVar(&pageToken, "page-token", "", "Token of the page to return")
	urgent.Flags().StringVar(&status, "status", "", "Only verifications in this status")

	cmd.AddCommand(
		s.reasonCmd("mark-urgent", "Flag a verification for urgent settlement", true),
		s.actionCmd("clear-urgent", "Remove the urgent flag of a verification"),
		urgent,
	)
}
