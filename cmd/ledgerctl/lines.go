package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var lineColumns = []column{
	{"ID", "id"},
	{"Code", "code"},
	{"Exercice", "exercice"},
	{"Dotation", "dotationActuelle"},
	{"Engage", "totalEngage"},
	{"Paye", "totalPaye"},
	{"Opened", "opened"},
	{"Active", "active"},
}

var availabilityColumns = []column{
	{"Line", "lineId"},
	{"Code", "code"},
	{"Dotation", "dotationActuelle"},
	{"Reserved", "reserved"},
	{"Available", "available"},
	{"Consumption", "consumptionRate"},
	{"Alert", "alert"},
}

func newLinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lines",
		Aliases: []string{"line"},
		Short:   "Manage budget lines",
	}
	cmd.AddCommand(
		newLinesListCmd(),
		newLinesGetCmd(),
		newLinesCreateCmd(),
		newLinesAmendCmd(),
		newLinesAvailabilityCmd(),
		newLinesVersionsCmd(),
		newLineReasonActionCmd("deactivate", "Deactivate a budget line"),
		newLineReasonActionCmd("freeze-noncompliant", "Freeze the newest commitments of a line until it fits its dotation"),
	)
	return cmd
}

func newLinesListCmd() *cobra.Command {
	var (
		filter    string
		pageSize  int
		pageToken string
		active    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budget lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := pageQuery(filter, pageSize, pageToken)
			if active != "" {
				if _, err := strconv.ParseBool(active); err != nil {
					return fmt.Errorf("--active must be true or false")
				}
				q.Set("active", active)
			}
			var resp map[string]any
			if err := newClient().getJSON(apiPath("/lines"), q, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, lineColumns)
		},
	}
	addPageFlags(cmd, &filter, &pageSize, &pageToken)
	cmd.Flags().StringVar(&active, "active", "", "Only active (true) or inactive (false) lines")
	return cmd
}

func newLinesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [line-id]",
		Short: "Show a budget line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var line map[string]any
			if err := newClient().getJSON(apiPath("/lines/"+url.PathEscape(args[0])), nil, &line); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), line, lineColumns)
		},
	}
}

func newLinesCreateCmd() *cobra.Command {
	var (
		code     string
		label    string
		year     int
		dotation string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a budget line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := parseAmount("dotation", dotation)
			if err != nil {
				return err
			}
			body := map[string]any{"code": code, "label": label, "dotationInitiale": amount}
			if year != 0 {
				body["exercice"] = year
			}
			var line map[string]any
			if err := newClient().postJSON(apiPath("/lines"), body, &line); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), line, lineColumns)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Line code, unique within the fiscal year")
	cmd.Flags().StringVar(&label, "label", "", "Line label")
	cmd.Flags().IntVar(&year, "year", 0, "Fiscal year of the line (default: the request exercice)")
	cmd.Flags().StringVar(&dotation, "dotation", "", "Initial dotation")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("dotation")
	return cmd
}

func newLinesAmendCmd() *cobra.Command {
	var (
		label    string
		dotation string
		reason   string
	)
	cmd := &cobra.Command{
		Use:   "amend [line-id]",
		Short: "Amend the label or initial dotation of a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"reason": reason}
			if cmd.Flags().Changed("label") {
				body["label"] = label
			}
			if cmd.Flags().Changed("dotation") {
				amount, err := parseAmount("dotation", dotation)
				if err != nil {
					return err
				}
				body["dotationInitiale"] = amount
			}
			var line map[string]any
			if err := newClient().patchJSON(apiPath("/lines/"+url.PathEscape(args[0])), body, &line); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), line, lineColumns)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "New label")
	cmd.Flags().StringVar(&dotation, "dotation", "", "New initial dotation")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the new version")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newLinesAvailabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability [line-id]",
		Short: "Show the available credit of a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap map[string]any
			if err := newClient().getJSON(apiPath("/lines/"+url.PathEscape(args[0])+"/availability"), nil, &snap); err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), snap, availabilityColumns)
		},
	}
}

func newLinesVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions [line-id]",
		Short: "List the amendment history of a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newClient().getJSON(apiPath("/lines/"+url.PathEscape(args[0])+"/versions"), nil, &resp); err != nil {
				return err
			}
			return printPage(cmd, resp, []column{
				{"Version", "version"},
				{"Dotation", "dotationInitiale"},
				{"Reason", "reason"},
				{"Changed By", "changedBy"},
				{"At", "createdAt"},
			})
		},
	}
}

func newLineReasonActionCmd(action, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   action + " [line-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			path := apiPath("/lines/" + url.PathEscape(args[0]) + ":" + action)
			if err := newClient().postJSON(path, map[string]string{"reason": reason}, &resp); err != nil {
				return fmt.Errorf("%s failed: %w", action, err)
			}
			if structured() {
				return printOutput(cmd.OutOrStdout(), resp)
			}
			if action == "freeze-noncompliant" {
				return printObject(cmd.OutOrStdout(), resp, []column{
					{"Line", "lineId"},
					{"Dotation", "dotationActuelle"},
					{"Held", "held"},
					{"Compliant", "compliant"},
					{"Frozen", "commitments"},
					{"Descendants", "descendants"},
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Line %s: %s done\n", args[0], action)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newFiscalYearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fiscal-year",
		Short: "Manage fiscal years",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "open [year]",
		Short: "Open every active line of a fiscal year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			var resp map[string]any
			if err := newClient().postJSON(apiPath("/fiscal-years/"+args[0]+":open"), map[string]any{}, &resp); err != nil {
				return err
			}
			if structured() {
				return printOutput(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fiscal year %s opened: %s line(s)\n", args[0], extractValue(resp, "linesOpened"))
			return nil
		},
	})
	return cmd
}

// parseAmount validates a decimal flag and returns it in its canonical
// string form, which the server decodes without loss.
func parseAmount(flag, raw string) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid --%s %q: %w", flag, raw, err)
	}
	return d.String(), nil
}

func addPageFlags(cmd *cobra.Command, filter *string, pageSize *int, pageToken *string) {
	cmd.Flags().StringVar(filter, "filter", "", "Filter expression, e.g. \"amount > 100000 AND status = 'soumis'\"")
	cmd.Flags().IntVar(pageSize, "page-size", 0, "Maximum number of items to return")
	cmd.Flags().StringVar(pageToken, "page-token", "", "Token of the page to return")
}

func pageQuery(filter string, pageSize int, pageToken string) url.Values {
	q := url.Values{}
	if filter != "" {
		q.Set("filter", filter)
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	return q
}

// printPage renders a list response and the token of the next page.
func printPage(cmd *cobra.Command, resp map[string]any, cols []column) error {
	items := toMapSlice(resp["items"])
	if err := printItems(cmd.OutOrStdout(), resp, items, cols); err != nil {
		return err
	}
	if !structured() {
		if next := extractValue(resp, "nextPageToken"); next != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\nNext page: --page-token %s\n", next)
		}
	}
	return nil
}
