/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/radiorelay/internal/auth"
)

var (
	tokenIdentity string
	tokenName     string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a listener token for /webrtc/signal",
	Long: `Issue a signed listener token using RELAY_JWT_SIGNING_KEY.

The token is scoped to RELAY_ROOM_NAME. Listeners pass it as a Bearer
token or, for browser websockets, as ?token=.

Examples:
  radiorelay token --name "Kitchen speaker"
  radiorelay token --identity bot-1 --ttl 24h
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenIdentity, "identity", "", "Listener identity (random when empty)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("RELAY_JWT_SIGNING_KEY must be set to issue tokens")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		Identity: tokenIdentity,
		Name:     tokenName,
		Room:     cfg.RoomName,
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
