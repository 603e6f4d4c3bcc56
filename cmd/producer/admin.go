package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sungwon/enroll-notify/internal/auth"
	"github.com/sungwon/enroll-notify/internal/transport"
)

var tokenScopes []string

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token signed with auth.signing_key",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var smtpCheckCmd = &cobra.Command{
	Use:   "smtp-check",
	Short: "Connect and authenticate to the configured mail server",
	Args:  cobra.NoArgs,
	RunE:  runSMTPCheck,
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeEnqueue, auth.ScopeRead},
		"scopes to grant (enqueue, read, admin)")
}

func runToken(cmd *cobra.Command, args []string) error {
	jwtCfg := cfg.Auth
	jwtCfg.Enabled = true
	if err := jwtCfg.Validate(); err != nil {
		return err
	}

	for _, s := range tokenScopes {
		switch s {
		case auth.ScopeEnqueue, auth.ScopeRead, auth.ScopeAdmin:
		default:
			return fmt.Errorf("unknown scope %q", s)
		}
	}

	token, err := auth.NewJWTService(jwtCfg).GenerateToken(args[0], tokenScopes)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"token":      token,
		"subject":    args[0],
		"scopes":     tokenScopes,
		"expires_in": jwtCfg.TokenExpiry.String(),
	})
}

func runSMTPCheck(cmd *cobra.Command, args []string) error {
	tr, err := transport.New(cfg.SMTP, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SMTP.Timeout)
	defer cancel()

	if err := tr.HealthCheck(ctx); err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return fmt.Errorf("%s check failed (permanent=%t): %w", tr.Name(), terr.Permanent, err)
		}
		return fmt.Errorf("%s check failed: %w", tr.Name(), err)
	}
	return printJSON(cmd, map[string]string{
		"transport": tr.Name(),
		"server":    fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port),
		"status":    "ok",
	})
}
