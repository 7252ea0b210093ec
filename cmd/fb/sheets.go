package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/sheets"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/ui"
	"github.com/feedbackkit/fb/internal/validation"
)

var sheetsCmd = &cobra.Command{
	Use:     "sheets",
	GroupID: "bridges",
	Short:   "Work with the Google Sheets feedback log",
	Long: `Manage the spreadsheet feedback is appended to.

Configuration (config file or FB_* environment):
  sheets.spreadsheet_id        Spreadsheet ID
  sheets.sheet_name            Tab name (default "Feedback")
  sheets.service_account_file  Service account JSON key
  sheets.oauth                 Use a stored OAuth token instead
  sheets.client_id, sheets.client_secret, sheets.refresh_token
  sheets.redis_url             Share OAuth tokens through Redis

GOOGLE_SHEETS_SPREADSHEET_ID, GOOGLE_SERVICE_ACCOUNT_EMAIL and
GOOGLE_PRIVATE_KEY are read when the config leaves a value empty.`,
}

func newSheetsClient() *sheets.Client {
	c, err := newSheetsBridge(configSettings{}, bridgeDeps{Logger: debug.Log})
	if validation.Is(err) {
		failWithHint(err, "run 'fb config set sheets.<field> <value>' or export GOOGLE_* variables")
	}
	if err != nil {
		fail(err)
	}
	return c
}

var sheetsEnsureHeadersCmd = &cobra.Command{
	Use:   "ensure-headers",
	Short: "Write the header row if it is missing or out of date",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := newSheetsClient()
		wrote, err := c.EnsureHeaders(rootCtx, c.Headers())
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"written": wrote, "headers": c.Headers(), "url": c.SheetURL()})
			return
		}
		if wrote {
			fmt.Printf("%s Header row written\n", ui.RenderPassIcon())
		} else {
			fmt.Printf("%s Header row already up to date\n", ui.RenderPassIcon())
		}
	},
}

var sheetsAppendCmd = &cobra.Command{
	Use:   "append <text>",
	Short: "Append a feedback row",
	Long: `Append a feedback row to the sheet, writing headers first if needed.

Examples:
  fb sheets append "Search is slow" --category improvement --priority low`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		priority, _ := cmd.Flags().GetString("priority")
		title, _ := cmd.Flags().GetString("title")
		pageURL, _ := cmd.Flags().GetString("url")

		sub := types.FeedbackSubmission{
			ID:          uuid.NewString(),
			Feedback:    joinArgs(args),
			Title:       title,
			Category:    types.Category(category),
			Priority:    types.Priority(priority),
			Environment: types.Environment{URL: pageURL},
			CreatedAt:   time.Now(),
		}
		sub.SetDefaults()
		if err := sub.Validate(); err != nil {
			fail(validation.New("feedback", "%v", err))
		}

		res, err := newSheetsClient().Handle(rootCtx, &types.ParsedSubmission{Action: types.ActionCreate, Submission: sub})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Printf("%s Appended row %s\n", ui.RenderPassIcon(), ui.RenderAccent(res.Ref.ExternalID))
		if res.Ref.URL != "" {
			fmt.Fprintln(os.Stdout, ui.RenderMuted(res.Ref.URL))
		}
	},
}

func init() {
	sheetsAppendCmd.Flags().String("title", "", "Short title")
	sheetsAppendCmd.Flags().StringP("category", "c", "", "Category")
	sheetsAppendCmd.Flags().StringP("priority", "p", "", "Priority")
	sheetsAppendCmd.Flags().String("url", "", "Page the feedback is about")

	sheetsCmd.AddCommand(sheetsEnsureHeadersCmd, sheetsAppendCmd)
	rootCmd.AddCommand(sheetsCmd)
}
