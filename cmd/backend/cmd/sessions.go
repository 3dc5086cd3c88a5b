package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session maintenance against the configured storage",
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate expired sessions and purge old inactive ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openServices(ctx, false)
		if err != nil {
			return err
		}
		defer closeServices(svc)

		res, err := svc.sessions.Sweep(ctx)
		if err != nil {
			return err
		}
		printf(cmd, "expired: %d\npurged: %d\n", res.Expired, res.Purged)
		return nil
	},
}

var revokeSubject string

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke every session of an identity subject",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := strings.TrimSpace(revokeSubject)
		if subject == "" {
			return errors.New("--subject is required")
		}
		ctx := cmd.Context()
		svc, err := openServices(ctx, false)
		if err != nil {
			return err
		}
		defer closeServices(svc)

		if err := svc.sessions.RevokeAllForIdentity(ctx, subject); err != nil {
			return err
		}
		printf(cmd, "revoked sessions for %s\n", subject)
		return nil
	},
}

func closeServices(svc *services) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		svc.logger.Warn("closing services", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd, sessionsRevokeCmd)
	sessionsRevokeCmd.Flags().StringVar(&revokeSubject, "subject", "", "Identity subject (Firebase UID)")
}
