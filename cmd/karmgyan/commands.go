package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/karmgyan/internal/config"
)

// readChart loads chart data from --chart (a file, "-" for stdin) or
// --chart-json (inline).
func readChart(cmd *cobra.Command) (json.RawMessage, error) {
	path, _ := cmd.Flags().GetString("chart")
	inline, _ := cmd.Flags().GetString("chart-json")

	var data []byte
	switch {
	case inline != "" && path != "":
		return nil, errors.New("use only one of --chart and --chart-json")
	case inline != "":
		data = []byte(inline)
	case path == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading chart from stdin: %w", err)
		}
		data = b
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading chart: %w", err)
		}
		data = b
	default:
		return nil, errors.New("one of --chart or --chart-json is required")
	}

	if !json.Valid(data) {
		return nil, errors.New("chart data is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func addChartFlags(cmd *cobra.Command) {
	cmd.Flags().String("chart", "", `path to the birth chart JSON ("-" for stdin)`)
	cmd.Flags().String("chart-json", "", "birth chart as an inline JSON object")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about a birth chart (1 credit)",
	Long: `Ask a question about a birth chart. Earlier exchanges of the same
conversation are sent along as context.

Examples:
  karmgyan ask --chart ./chart.json "When is a good time to change jobs?"
  karmgyan ask --chart ./chart.json --conversation career "And after that?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chart, err := readChart(cmd)
		if err != nil {
			return err
		}
		conv, _ := cmd.Flags().GetString("conversation")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"chartData": chart,
			"question":  strings.Join(args, " "),
		}
		if conv != "" {
			req["conversationId"] = conv
		}
		resp, err := client.post(cmd.Context(), "/api/ai/ask", req)
		if err != nil {
			return err
		}

		var out struct {
			Answer           string `json:"answer"`
			Model            string `json:"model"`
			IsMock           bool   `json:"is_mock"`
			CreditsUsed      int    `json:"credits_used"`
			CreditsRemaining int    `json:"credits_remaining"`
			ConversationID   string `json:"conversation_id"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if asJSON {
			return prettyJSON(out)
		}

		fmt.Println(out.Answer)
		fmt.Println()
		printCharge(out.CreditsUsed, out.CreditsRemaining)
		printStatus("Conversation", "%s", out.ConversationID)
		if out.IsMock {
			printWarning("answer produced by the mock engine")
		}
		return nil
	},
}

func init() {
	addChartFlags(askCmd)
	askCmd.Flags().String("conversation", "", "conversation id (default: your default conversation)")
	askCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and browse reports",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate [type]",
	Short: "Generate a report (career, marriage: 5; comprehensive: 10; yearly: 15 credits)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chart, err := readChart(cmd)
		if err != nil {
			return err
		}
		req := map[string]any{"chartData": chart}
		if len(args) == 1 {
			req["reportType"] = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Generating report, this can take a couple of minutes...")
		resp, err := client.post(cmd.Context(), "/api/ai/generate-report", req)
		if err != nil {
			return err
		}

		var out struct {
			ReportID         string `json:"report_id"`
			ReportType       string `json:"report_type"`
			Content          string `json:"content"`
			CreditsUsed      int    `json:"credits_used"`
			CreditsRemaining int    `json:"credits_remaining"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		fmt.Println(out.Content)
		fmt.Println()
		printSuccess("Saved %s report %s", out.ReportType, out.ReportID)
		printCharge(out.CreditsUsed, out.CreditsRemaining)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/ai/reports")
		if err != nil {
			return err
		}

		var out struct {
			Reports []struct {
				ID         string `json:"id"`
				ReportType string `json:"report_type"`
				CreatedAt  string `json:"created_at"`
				Preview    string `json:"preview"`
			} `json:"reports"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Reports) == 0 {
			fmt.Println("No reports yet.")
			return nil
		}
		for _, r := range out.Reports {
			fmt.Printf("%s  %-13s  %s\n", colorize(colorBold, r.ID), r.ReportType, r.CreatedAt)
			fmt.Printf("    %s\n", strings.ReplaceAll(r.Preview, "\n", " "))
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a report in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/ai/reports/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var out struct {
			Report struct {
				ID         string `json:"id"`
				ReportType string `json:"report_type"`
				Content    string `json:"content"`
				CreatedAt  string `json:"created_at"`
			} `json:"report"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printStatus("Report", "%s (%s, %s)", out.Report.ID, out.Report.ReportType, out.Report.CreatedAt)
		fmt.Println()
		fmt.Println(out.Report.Content)
		return nil
	},
}

func init() {
	addChartFlags(reportGenerateCmd)
	reportCmd.AddCommand(reportGenerateCmd, reportListCmd, reportShowCmd)
}

// --- credits ---

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show, buy and price credits",
}

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your balance and the price list",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/ai/credits")
		if err != nil {
			return err
		}

		var out struct {
			Credits int            `json:"credits"`
			Pricing map[string]int `json:"pricing"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printStatus("Balance", "%s", formatCredits(out.Credits))
		for _, k := range []string{"question", "report_basic", "report_comprehensive", "report_yearly"} {
			printStatus(k, "%d", out.Pricing[k])
		}
		return nil
	},
}

var creditsBuyCmd = &cobra.Command{
	Use:   "buy <amount>",
	Short: "Add credits (simulated purchase)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[0])
		if err != nil || amount < 1 {
			return fmt.Errorf("amount must be a positive integer, got %q", args[0])
		}
		paymentID, _ := cmd.Flags().GetString("payment-id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := map[string]any{"amount": amount}
		if paymentID != "" {
			req["paymentId"] = paymentID
		}
		resp, err := client.post(cmd.Context(), "/api/ai/credits/purchase", req)
		if err != nil {
			return err
		}

		var out struct {
			CreditsAdded int    `json:"credits_added"`
			NewBalance   int    `json:"new_balance"`
			PaymentID    string `json:"payment_id"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Added %d credits (payment %s), balance %d", out.CreditsAdded, out.PaymentID, out.NewBalance)
		return nil
	},
}

var creditsPackagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List purchasable credit packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/ai/credit-packages")
		if err != nil {
			return err
		}

		var out struct {
			Packages []struct {
				ID       string  `json:"id"`
				Credits  int     `json:"credits"`
				PriceINR int     `json:"price_inr"`
				PriceUSD float64 `json:"price_usd"`
				Savings  *string `json:"savings"`
				Popular  bool    `json:"popular"`
			} `json:"packages"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, p := range out.Packages {
			line := fmt.Sprintf("%-9s %4d credits  ₹%d / $%.2f", p.ID, p.Credits, p.PriceINR, p.PriceUSD)
			if p.Savings != nil {
				line += "  save " + *p.Savings
			}
			if p.Popular {
				line = colorize(colorGreen, line+"  (popular)")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	creditsBuyCmd.Flags().String("payment-id", "", "payment reference; each id is credited once")
	creditsCmd.AddCommand(creditsShowCmd, creditsBuyCmd, creditsPackagesCmd)
}

// --- conversation ---

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Show or clear conversation history",
}

var conversationShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the exchanges of a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/ai/conversations"
		if len(args) == 1 {
			path += "?conversationId=" + url.QueryEscape(args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var out struct {
			ConversationID string `json:"conversation_id"`
			Messages       []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printStatus("Conversation", "%s (%d messages)", out.ConversationID, len(out.Messages))
		for _, m := range out.Messages {
			role := colorize(colorCyan, m.Role+":")
			if m.Role == "assistant" {
				role = colorize(colorGreen, m.Role+":")
			}
			fmt.Printf("%s %s\n", role, m.Content)
		}
		return nil
	},
}

var conversationClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Forget a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/ai/conversations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Cleared conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationCmd.AddCommand(conversationShowCmd, conversationClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
