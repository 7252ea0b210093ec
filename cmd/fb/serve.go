package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/config"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/server"
	"github.com/feedbackkit/fb/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "bridges",
	Short:   "Run the HTTP relay in front of the configured bridges",
	Long: `Run the HTTP relay that browser widgets post feedback to.

Routes:
  GET  /health                    configured bridges
  POST /api/integrations/:bridge  create, updateStatus, getStatus, addComment
  POST /api/webhook/format        flatten a submission into a webhook payload

Every bridge with complete settings is enabled; the others are listed as
skipped at startup. Set server.cors_origins to restrict browser origins and
webhook.secret to sign formatted payloads.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = config.GetString("server.addr")
		}

		reg, skipped, err := buildRegistry(configSettings{}, bridgeDeps{Logger: debug.Log})
		if err != nil {
			fail(err)
		}
		for _, s := range skipped {
			debug.Log.WithField("reason", s).Warn("bridge not configured")
		}
		if len(reg.List()) == 0 {
			FatalErrorWithHint("no bridges are configured", "run 'fb jira --help' or 'fb sheets --help' for the settings each bridge needs")
		}

		if !debug.Enabled() {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.New(server.Config{
			Registry:      reg,
			Logger:        debug.Log,
			AllowOrigins:  config.GetStringSlice("server.cors_origins"),
			Webhook:       webhookOptions(configSettings{}),
			WebhookSecret: config.GetString("webhook.secret"),
		})
		debug.PrintNormal("Relay listening on %s (bridges: %v)\n", addr, reg.List())
		if err := srv.Run(rootCtx, addr); err != nil {
			fail(err)
		}
	},
}

// webhookOptions reads webhook.rename.<field> and webhook.extra.<key>.
func webhookOptions(s settings) webhook.Options {
	opts := webhook.Options{Rename: subKeys(s, "webhook.rename")}
	if extra := subKeys(s, "webhook.extra"); len(extra) > 0 {
		opts.Extra = make(map[string]interface{}, len(extra))
		for k, v := range extra {
			opts.Extra[k] = v
		}
	}
	return opts
}

func init() {
	serveCmd.Flags().String("addr", "", fmt.Sprintf("Listen address (default from server.addr, %q)", ":8080"))
	rootCmd.AddCommand(serveCmd)
}
