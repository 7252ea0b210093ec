package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/apiclient"
	"github.com/feedbackkit/fb/internal/config"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/timeparsing"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/ui"
	"github.com/feedbackkit/fb/internal/validation"
)

// newAPIClient builds the feedback API client from flags and config.
func newAPIClient() *apiclient.Client {
	retries := config.GetInt("transport.max_retries")
	if retries == 0 {
		retries = -1
	}
	c, err := apiclient.New(apiclient.Config{
		BaseURL:    apiURL,
		Get:        config.GetString,
		Timeout:    config.GetDuration("transport.timeout"),
		MaxRetries: retries,
		Logger:     debug.Log,
	})
	if err != nil {
		fail(err)
	}
	return c
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "feedback",
	Short:   "List feedback",
	Long: `List feedback stored by the feedback API.

Examples:
  fb list --status open
  fb list --category bug --since -2d
  fb list --since yesterday --json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := listOptionsFromFlags(cmd, time.Now())
		if err != nil {
			fail(err)
		}
		res, err := newAPIClient().List(rootCtx, opts)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		if len(res.Items) == 0 {
			debug.PrintNormal("No feedback found.\n")
			return
		}
		writeFeedbackTable(os.Stdout, res.Items, ui.TerminalWidth())
		if res.Total > len(res.Items) {
			debug.PrintNormal("\n%s\n", ui.RenderMuted(fmt.Sprintf("showing %d of %d", len(res.Items), res.Total)))
		}
	},
}

// listOptionsFromFlags validates the filter flags of list.
func listOptionsFromFlags(cmd *cobra.Command, now time.Time) (apiclient.ListOptions, error) {
	status, _ := cmd.Flags().GetString("status")
	category, _ := cmd.Flags().GetString("category")
	priority, _ := cmd.Flags().GetString("priority")
	search, _ := cmd.Flags().GetString("search")
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	opts := apiclient.ListOptions{
		Status:   types.Status(status),
		Category: types.Category(category),
		Priority: types.Priority(priority),
		Search:   search,
		Limit:    limit,
		Offset:   offset,
	}
	if opts.Status != "" && !opts.Status.IsValid() {
		return opts, validation.New("status", "invalid status %q", status)
	}
	if opts.Category != "" && !opts.Category.IsValid() {
		return opts, validation.New("category", "invalid category %q", category)
	}
	if opts.Priority != "" && !opts.Priority.IsValid() {
		return opts, validation.New("priority", "invalid priority %q", priority)
	}
	if since != "" {
		t, err := timeparsing.ParseSince(since, now)
		if err != nil {
			return opts, validation.New("since", "%v", err)
		}
		opts.Since = t
	}
	return opts, nil
}

// summaryOf is the one-line text shown for an item in tables.
func summaryOf(f apiclient.Feedback) string {
	if s := strings.TrimSpace(f.Title); s != "" {
		return s
	}
	return ui.FirstLine(f.Feedback)
}

func writeFeedbackTable(out io.Writer, items []apiclient.Feedback, width int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tCATEGORY\tCREATED\tSUMMARY")
	summaryWidth := width - 70
	if summaryWidth < 20 {
		summaryWidth = 20
	}
	for _, f := range items {
		created := ""
		if !f.CreatedAt.IsZero() {
			created = f.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			ui.RenderStatus(f.Status),
			ui.RenderPriority(f.Priority),
			ui.RenderCategory(f.Category),
			created,
			ui.TruncateSimple(summaryOf(f), summaryWidth),
		)
	}
	_ = w.Flush()
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "feedback",
	Short:   "Show one feedback item",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := newAPIClient().Get(rootCtx, args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(f)
			return
		}
		writeFeedbackDetail(os.Stdout, f, ui.TerminalWidth())
	},
}

func writeFeedbackDetail(out io.Writer, f *apiclient.Feedback, width int) {
	fmt.Fprintf(out, "%s %s\n", ui.RenderAccent(f.ID), summaryOf(*f))
	fmt.Fprintln(out, ui.RenderSeparator())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", ui.RenderStatus(f.Status))
	fmt.Fprintf(w, "Priority:\t%s\n", ui.RenderPriority(f.Priority))
	fmt.Fprintf(w, "Category:\t%s\n", ui.RenderCategory(f.Category))
	if f.Reporter != "" {
		fmt.Fprintf(w, "Reporter:\t%s\n", f.Reporter)
	}
	if !f.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:\t%s\n", f.CreatedAt.Local().Format(time.RFC1123))
	}
	if !f.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:\t%s\n", f.UpdatedAt.Local().Format(time.RFC1123))
	}
	if f.Environment.URL != "" {
		fmt.Fprintf(w, "Page:\t%s\n", f.Environment.URL)
	}
	if f.Environment.UserAgent != "" {
		fmt.Fprintf(w, "Browser:\t%s\n", f.Environment.UserAgent)
	}
	if vp := f.Environment.Viewport.String(); vp != "" {
		fmt.Fprintf(w, "Viewport:\t%s\n", vp)
	}
	if f.Screenshots > 0 || f.HasVideo {
		fmt.Fprintf(w, "Attachments:\t%d screenshot(s), video: %t\n", f.Screenshots, f.HasVideo)
	}
	_ = w.Flush()

	if text := strings.TrimSpace(f.Feedback); text != "" {
		fmt.Fprintf(out, "\n%s\n", ui.RenderHeading("Feedback"))
		fmt.Fprintln(out, ui.Indent(ui.WrapText(text, width-2), "  "))
	}
	if len(f.Metadata) > 0 {
		fmt.Fprintf(out, "\n%s\n", ui.RenderHeading("Metadata"))
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, f.Metadata[k])
		}
	}
}

var createCmd = &cobra.Command{
	Use:     "create [text]",
	GroupID: "feedback",
	Short:   "Submit new feedback",
	Long: `Submit new feedback to the feedback API.

The text comes from the arguments, or from stdin when it is "-".

Examples:
  fb create "Checkout button does nothing" --category bug --priority high
  echo "Dark mode please" | fb create - --category feature`,
	Run: func(cmd *cobra.Command, args []string) {
		req, err := createRequestFromFlags(cmd, args, os.Stdin)
		if err != nil {
			fail(err)
		}
		f, err := newAPIClient().Create(rootCtx, req)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(f)
			return
		}
		fmt.Printf("%s Created feedback %s\n", ui.RenderPassIcon(), ui.RenderAccent(f.ID))
	},
}

// createRequestFromFlags assembles the create body. Each request carries a
// fresh clientRequestId so the server can drop retried duplicates.
func createRequestFromFlags(cmd *cobra.Command, args []string, stdin io.Reader) (apiclient.CreateRequest, error) {
	title, _ := cmd.Flags().GetString("title")
	category, _ := cmd.Flags().GetString("category")
	priority, _ := cmd.Flags().GetString("priority")
	reporter, _ := cmd.Flags().GetString("reporter")
	pageURL, _ := cmd.Flags().GetString("url")
	meta, _ := cmd.Flags().GetStringToString("meta")

	text := strings.Join(args, " ")
	if text == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return apiclient.CreateRequest{}, fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	req := apiclient.CreateRequest{
		Feedback:    strings.TrimSpace(text),
		Title:       title,
		Category:    types.Category(category),
		Priority:    types.Priority(priority),
		Reporter:    reporter,
		Environment: types.Environment{URL: pageURL, UserAgent: "fb-cli/" + Version},
		Metadata:    map[string]any{"clientRequestId": uuid.NewString(), "source": "cli"},
	}
	for k, v := range meta {
		req.Metadata[k] = v
	}
	return req, nil
}

var updateCmd = &cobra.Command{
	Use:     "update <id>",
	GroupID: "feedback",
	Short:   "Update fields of a feedback item",
	Long: `Update fields of a feedback item. Only the flags you pass are changed.

Examples:
  fb update f_123 --priority critical
  fb update f_123 --title "Checkout broken on Safari" --category bug`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req, err := updateRequestFromFlags(cmd)
		if err != nil {
			fail(err)
		}
		f, err := newAPIClient().Update(rootCtx, args[0], req)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(f)
			return
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPassIcon(), ui.RenderAccent(f.ID))
	},
}

// updateRequestFromFlags sets only the fields whose flags were given.
func updateRequestFromFlags(cmd *cobra.Command) (apiclient.UpdateRequest, error) {
	var req apiclient.UpdateRequest
	flags := cmd.Flags()
	changed := 0
	if flags.Changed("title") {
		s, _ := flags.GetString("title")
		req.Title = &s
		changed++
	}
	if flags.Changed("feedback") {
		s, _ := flags.GetString("feedback")
		req.Feedback = &s
		changed++
	}
	if flags.Changed("category") {
		s, _ := flags.GetString("category")
		c := types.Category(s)
		if !c.IsValid() {
			return req, validation.New("category", "invalid category %q", s)
		}
		req.Category = &c
		changed++
	}
	if flags.Changed("status") {
		s, _ := flags.GetString("status")
		st := types.Status(s)
		if !st.IsValid() {
			return req, validation.New("status", "invalid status %q", s)
		}
		req.Status = &st
		changed++
	}
	if flags.Changed("priority") {
		s, _ := flags.GetString("priority")
		p := types.Priority(s)
		if !p.IsValid() {
			return req, validation.New("priority", "invalid priority %q", s)
		}
		req.Priority = &p
		changed++
	}
	if changed == 0 {
		return req, validation.New("flags", "nothing to update")
	}
	return req, nil
}

var statusCmd = &cobra.Command{
	Use:     "status <id> <status>",
	GroupID: "feedback",
	Short:   "Change the status of a feedback item",
	Long: `Change the status of a feedback item.

Statuses: new, open, in_progress, resolved, closed, wont_fix`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		st := types.Status(args[1])
		if !st.IsValid() {
			fail(validation.New("status", "invalid status %q", args[1]))
		}
		f, err := newAPIClient().UpdateStatus(rootCtx, args[0], st)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(f)
			return
		}
		fmt.Printf("%s %s is now %s\n", ui.RenderPassIcon(), ui.RenderAccent(args[0]), ui.RenderStatus(f.Status))
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "feedback",
	Short:   "Delete a feedback item",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			failWithHint(validation.New("force", "refusing to delete %s", args[0]), "pass --force to confirm")
		}
		if err := newAPIClient().Delete(rootCtx, args[0]); err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"deleted": args[0]})
			return
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPassIcon(), args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "feedback",
	Short:   "Show feedback counts by status, category and priority",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		s, err := newAPIClient().Stats(rootCtx)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(s)
			return
		}
		writeStats(os.Stdout, s)
	},
}

func writeStats(out io.Writer, s *apiclient.Stats) {
	fmt.Fprintf(out, "%s %d\n", ui.RenderHeading("Total"), s.Total)
	sections := []struct {
		title  string
		counts map[string]int
	}{
		{"By status", s.ByStatus},
		{"By category", s.ByCategory},
		{"By priority", s.ByPriority},
	}
	for _, sec := range sections {
		if len(sec.counts) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s\n", ui.RenderHeading(sec.title))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		keys := make([]string, 0, len(sec.counts))
		for k := range sec.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%d\n", k, sec.counts[k])
		}
		_ = w.Flush()
	}
}

func registerListFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("status", "s", "", "Filter by status")
	cmd.Flags().StringP("category", "c", "", "Filter by category")
	cmd.Flags().StringP("priority", "p", "", "Filter by priority")
	cmd.Flags().String("search", "", "Full-text search")
	cmd.Flags().String("since", "", "Only items created since (e.g. -2d, yesterday, 2026-01-02)")
	cmd.Flags().IntP("limit", "n", 50, "Maximum items to return")
	cmd.Flags().Int("offset", 0, "Items to skip")
}

func registerCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "Short title")
	cmd.Flags().StringP("category", "c", "", "Category: bug, feature, improvement, question")
	cmd.Flags().StringP("priority", "p", "", "Priority: low, medium, high, critical")
	cmd.Flags().String("reporter", "", "Reporter name or email")
	cmd.Flags().String("url", "", "Page the feedback is about")
	cmd.Flags().StringToString("meta", nil, "Extra metadata (key=value, repeatable)")
}

func registerUpdateFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("feedback", "", "New feedback text")
	cmd.Flags().StringP("category", "c", "", "New category")
	cmd.Flags().StringP("status", "s", "", "New status")
	cmd.Flags().StringP("priority", "p", "", "New priority")
}

func init() {
	registerListFlags(listCmd)
	registerCreateFlags(createCmd)
	registerUpdateFlags(updateCmd)
	deleteCmd.Flags().BoolP("force", "f", false, "Confirm deletion")

	rootCmd.AddCommand(listCmd, showCmd, createCmd, updateCmd, statusCmd, deleteCmd, statsCmd)
}
