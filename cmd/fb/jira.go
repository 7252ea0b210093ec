package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/attachment"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/jira"
	"github.com/feedbackkit/fb/internal/statusmap"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/ui"
	"github.com/feedbackkit/fb/internal/validation"
)

var jiraCmd = &cobra.Command{
	Use:     "jira",
	GroupID: "bridges",
	Short:   "Work with the Jira issues feedback was relayed to",
	Long: `Inspect and update Jira issues created from feedback.

Configuration (config file or FB_* environment):
  jira.domain        Jira domain (e.g. "acme" or "acme.atlassian.net")
  jira.email         Account email for API authentication
  jira.api_token     Jira API token
  jira.project_key   Project key for new issues

JIRA_DOMAIN, JIRA_EMAIL, JIRA_API_TOKEN and JIRA_PROJECT_KEY are read when
the config leaves a value empty.

Issues may be named by key (FB-123) or browse URL.`,
}

// newJiraClient builds the Jira client or exits with a setup hint.
func newJiraClient() *jira.Client {
	c, err := newJiraBridge(configSettings{}, bridgeDeps{Logger: debug.Log})
	if validation.Is(err) {
		failWithHint(err, "run 'fb config set jira.<field> <value>' or export JIRA_* variables")
	}
	if err != nil {
		fail(err)
	}
	return c
}

func issueKeyArg(c *jira.Client, arg string) string {
	key, err := jira.ResolveKey(arg, c.URL())
	if err != nil {
		fail(validation.New("issue", "%v", err))
	}
	return key
}

var jiraStatusCmd = &cobra.Command{
	Use:   "status <issue>",
	Short: "Show an issue's Jira status and its local equivalent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newJiraClient()
		key := issueKeyArg(c, args[0])

		issue, err := c.GetIssue(rootCtx, key)
		if err != nil {
			fail(err)
		}
		local := c.StatusMap().ToLocal(issue.StatusName())
		if jsonOutput {
			out := map[string]interface{}{
				"key":         key,
				"summary":     issue.Fields.Summary,
				"status":      issue.StatusName(),
				"localStatus": local,
				"url":         c.BrowseURL(key),
				"description": issue.DescriptionText(),
			}
			if t := issue.UpdatedAt(); !t.IsZero() {
				out["updated"] = t
			}
			outputJSON(out)
			return
		}
		writeIssueDetail(os.Stdout, issue, local, c.BrowseURL(key), ui.TerminalWidth())
	},
}

func writeIssueDetail(w io.Writer, issue *jira.Issue, local types.Status, url string, width int) {
	fmt.Fprintf(w, "%s %s (%s)\n", ui.RenderAccent(issue.Key), issue.StatusName(), ui.RenderStatus(local))
	if issue.Fields.Summary != "" {
		fmt.Fprintln(w, issue.Fields.Summary)
	}
	if t := issue.UpdatedAt(); !t.IsZero() {
		fmt.Fprintln(w, ui.RenderMuted("Updated "+t.Local().Format(time.RFC1123)))
	}
	fmt.Fprintln(w, ui.RenderMuted(url))
	if text := issue.DescriptionText(); text != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.Indent(ui.WrapText(text, width-2), "  "))
	}
}

// transitionHint names the moves Jira offers from the current status and the
// Jira statuses the local mapping targets.
func transitionHint(err *jira.TransitionNotFoundError, m *statusmap.Mapper) string {
	hint := "no moves are offered from the current status"
	if len(err.Available) > 0 {
		hint = "offered from the current status: " + strings.Join(err.Available, ", ")
	}
	if names := m.ExternalNames(); len(names) > 0 {
		hint += "; mapped Jira statuses: " + strings.Join(names, ", ")
	}
	return hint
}

var jiraTransitionCmd = &cobra.Command{
	Use:   "transition <issue> <status>",
	Short: "Move an issue to a new status",
	Long: `Move an issue to a new status.

The status may be a local status (new, open, in_progress, resolved, closed,
wont_fix), which is mapped to its Jira name, or a Jira status or transition
name used as is.

Examples:
  fb jira transition FB-12 resolved
  fb jira transition FB-12 "In Review"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := newJiraClient()
		key := issueKeyArg(c, args[0])

		var (
			t   *jira.Transition
			err error
		)
		if local := types.Status(args[1]); local.IsValid() {
			t, err = c.UpdateStatus(rootCtx, key, local)
		} else {
			t, err = c.TransitionIssue(rootCtx, key, args[1])
		}
		var missing *jira.TransitionNotFoundError
		if errors.As(err, &missing) {
			failWithHint(err, transitionHint(missing, c.StatusMap()))
		}
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "transition": t})
			return
		}
		fmt.Printf("%s %s moved to %s\n", ui.RenderPassIcon(), ui.RenderAccent(key), t.To.Name)
	},
}

var jiraCommentCmd = &cobra.Command{
	Use:   "comment <issue> <text>",
	Short: "Add a comment to an issue",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := newJiraClient()
		key := issueKeyArg(c, args[0])

		comment, err := c.AddComment(rootCtx, key, joinArgs(args[1:]))
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(comment)
			return
		}
		msg := fmt.Sprintf("Comment %s added to %s", comment.ID, ui.RenderAccent(key))
		if t := comment.CreatedAt(); !t.IsZero() {
			msg += ui.RenderMuted(" at " + t.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("%s %s\n", ui.RenderPassIcon(), msg)
	},
}

var jiraAttachCmd = &cobra.Command{
	Use:   "attach <issue> <file>...",
	Short: "Upload files to an issue",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := newJiraClient()
		key := issueKeyArg(c, args[0])

		var uploaded []jira.Attachment
		for _, path := range args[1:] {
			data, err := os.ReadFile(path) // #nosec G304 - user supplied upload
			if err != nil {
				fail(fmt.Errorf("read %s: %w", path, err))
			}
			name := filepath.Base(path)
			atts, err := c.AddAttachment(rootCtx, key, name, attachment.Bytes(data), attachment.DetectContentType(name))
			if err != nil {
				fail(err)
			}
			uploaded = append(uploaded, atts...)
		}
		if jsonOutput {
			outputJSON(uploaded)
			return
		}
		for _, a := range uploaded {
			fmt.Printf("%s %s (%d bytes)\n", ui.RenderPassIcon(), a.Filename, a.Size)
		}
	},
}

func init() {
	jiraCmd.AddCommand(jiraStatusCmd, jiraTransitionCmd, jiraCommentCmd, jiraAttachCmd)
	rootCmd.AddCommand(jiraCmd)
}
