package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"feedpush/internal/config"
	"feedpush/internal/model"
)

// TargetOptions holds flags for the targets add command.
type TargetOptions struct {
	Token    string
	Platform string
	Prefs    string
	Disabled bool
}

func newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage registered push targets",
	}
	cmd.AddCommand(newTargetsAddCommand())
	cmd.AddCommand(newTargetsListCommand())
	return cmd
}

func newTargetsAddCommand() *cobra.Command {
	opts := &TargetOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update a push target",
		Long: `Register a device token, or replace the settings of an existing one.

Preferences are a JSON object of booleans; strings such as "true" are rejected.

Example:
  feedpush targets add --token abc --platform android \
    --prefs '{"pushEnabled":true,"liveEnabled":true,"voteEnabled":false}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return addTarget(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Token, "token", "", "device token (required)")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "ios, android or web (required)")
	cmd.Flags().StringVar(&opts.Prefs, "prefs", "{}", "preference flags as JSON")
	cmd.Flags().BoolVar(&opts.Disabled, "disabled", false, "store the target as disabled")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func addTarget(cmd *cobra.Command, opts *TargetOptions) error {
	platform, err := model.ParsePlatform(strings.ToLower(strings.TrimSpace(opts.Platform)))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --platform", err)
	}
	prefs, err := model.ParsePrefs([]byte(opts.Prefs))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --prefs", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open storage", err)
	}
	defer func() { _ = store.Close() }()

	t := model.PushTarget{
		Token:    strings.TrimSpace(opts.Token),
		Platform: platform,
		Enabled:  !opts.Disabled,
		Prefs:    prefs,
	}
	if err := store.UpsertTarget(cmd.Context(), &t); err != nil {
		return WrapExitError(ExitCommandError, "save target", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "target %s saved (%s, %s)\n", t.Token, t.Platform, formatPrefs(t.Prefs))
	return nil
}

func newTargetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enabled push targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			store, err := openStore(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "open storage", err)
			}
			defer func() { _ = store.Close() }()

			targets, err := store.ListEnabledTargets(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list targets", err)
			}
			out := cmd.OutOrStdout()
			if len(targets) == 0 {
				fmt.Fprintln(out, "No enabled targets.")
				return nil
			}
			for _, t := range targets {
				fmt.Fprintf(out, "%s\t%s\t%s\n", t.Token, t.Platform, formatPrefs(t.Prefs))
			}
			return nil
		},
	}
}

func formatPrefs(p model.Prefs) string {
	var on []string
	if p.Allows(model.CategoryLive) {
		on = append(on, "live")
	}
	if p.Allows(model.CategoryVote) {
		on = append(on, "vote")
	}
	if p.Allows(model.CategoryYouTube) {
		on = append(on, "youtube")
	}
	if len(on) == 0 {
		return "no categories"
	}
	return strings.Join(on, ",")
}
