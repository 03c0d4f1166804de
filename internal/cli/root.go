// Package cli implements guardianctl, the operator CLI for the guardian store.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zajuna/tutor-virtual/internal/guardian"
	"github.com/zajuna/tutor-virtual/internal/identity"
)

// Execute runs guardianctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

type options struct {
	url      string
	username string
	password string
	timeout  time.Duration
	asJSON   bool
}

func (o *options) client() (*guardian.Client, error) {
	// The CLI reports failures directly instead of retrying.
	return guardian.New(guardian.Config{
		BaseURL:    o.url,
		Username:   o.username,
		Password:   o.password,
		Timeout:    o.timeout,
		MaxRetries: -1,
	})
}

// NewRootCmd builds the guardianctl command tree. Connection flags default
// to the same environment variables the action server reads.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "guardianctl",
		Short:         "Inspect and maintain the guardian autosave store",
		Long:          "guardianctl talks to the guardian store the way the action server does: it logs in, lists and writes autosaves, records security events and purges a sender's snapshots.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.url, "url", envOr("GUARDIAN_URL", "http://localhost:8088"), "guardian store base URL")
	pf.StringVar(&opts.username, "username", envOr("GUARDIAN_USERNAME", "tutor"), "service account username")
	pf.StringVar(&opts.password, "password", os.Getenv("GUARDIAN_PASSWORD"), "service account password")
	pf.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	pf.BoolVar(&opts.asJSON, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(
		newPingCmd(opts),
		newLatestCmd(opts),
		newSaveCmd(opts),
		newLogEventCmd(opts),
		newPurgeCmd(opts),
	)
	return rootCmd
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the guardian store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ok := client.Ping(cmd.Context())
			if opts.asJSON {
				return writeJSON(cmd, map[string]bool{"ok": ok})
			}
			if !ok {
				return fmt.Errorf("guardian store at %s is unreachable", opts.url)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "guardian store at %s is up\n", opts.url)
			return err
		},
	}
}

func newLatestCmd(opts *options) *cobra.Command {
	var senderID string
	var limit int
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "List the newest autosaves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if senderID != "" {
				if senderID, err = sender(senderID); err != nil {
					return err
				}
			}
			res, err := client.LatestAutosavesFor(cmd.Context(), senderID, limit)
			if err != nil {
				return fmt.Errorf("list autosaves: %w", err)
			}
			if opts.asJSON {
				return writeJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if len(res.Items) == 0 {
				_, err = fmt.Fprintln(out, "no autosaves")
				return err
			}
			for _, item := range res.Items {
				data, err := json.Marshal(item.Data)
				if err != nil {
					return fmt.Errorf("encode autosave %s: %w", item.ID, err)
				}
				if _, err := fmt.Fprintf(out, "%s  %s  %s  %s\n",
					item.Timestamp.Format(time.RFC3339), item.SenderID, item.ID, data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&senderID, "sender", "", "only list autosaves of this sender")
	cmd.Flags().IntVar(&limit, "limit", 5, "number of autosaves to list (1-100)")
	return cmd
}

func newSaveCmd(opts *options) *cobra.Command {
	var senderID, data string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store an autosave snapshot for a sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := sender(senderID)
			if err != nil {
				return err
			}
			payload, err := parseObject("data", data)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			if _, err := client.CreateAutosave(cmd.Context(), id, payload); err != nil {
				return fmt.Errorf("save autosave: %w", err)
			}
			return report(cmd, opts, "autosave stored for "+id)
		},
	}
	cmd.Flags().StringVar(&senderID, "sender", "", "sender id")
	cmd.Flags().StringVar(&data, "data", "{}", "snapshot as a JSON object")
	_ = cmd.MarkFlagRequired("sender")
	return cmd
}

func newLogEventCmd(opts *options) *cobra.Command {
	var eventType, payload string
	cmd := &cobra.Command{
		Use:   "log-event",
		Short: "Record a security event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := parseObject("payload", payload)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			if _, err := client.LogEvent(cmd.Context(), eventType, body); err != nil {
				return fmt.Errorf("log event: %w", err)
			}
			return report(cmd, opts, "event "+eventType+" recorded")
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type, e.g. cierre_sesion")
	cmd.Flags().StringVar(&payload, "payload", "{}", "event payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newPurgeCmd(opts *options) *cobra.Command {
	var senderID string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every autosave of a sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := sender(senderID)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			if _, err := client.DeleteAutosaves(cmd.Context(), id); err != nil {
				return fmt.Errorf("purge autosaves: %w", err)
			}
			return report(cmd, opts, "autosaves purged for "+id)
		},
	}
	cmd.Flags().StringVar(&senderID, "sender", "", "sender id")
	_ = cmd.MarkFlagRequired("sender")
	return cmd
}

func sender(raw string) (string, error) {
	id, ok := identity.SanitizeSenderID(raw)
	if !ok {
		return "", fmt.Errorf("invalid sender id %q", raw)
	}
	return id, nil
}

func parseObject(flag, raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	if out == nil {
		return nil, errors.New("--" + flag + " must be a JSON object, not null")
	}
	return out, nil
}

func report(cmd *cobra.Command, opts *options, msg string) error {
	if opts.asJSON {
		return writeJSON(cmd, map[string]bool{"ok": true})
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), msg)
	return err
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
