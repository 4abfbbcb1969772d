package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/middleware"
	"github.com/medping/golang_services/internal/platform/logger"
)

var (
	tokenID   string
	tokenRole string
	tokenName string
	tokenTTL  time.Duration
)

// tokenCmd mints identity tokens signed with JWT_SECRET for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed identity token",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, ok := domain.ParseRole(tokenRole)
		if !ok {
			return fmt.Errorf("role must be requester or provider, got %q", tokenRole)
		}
		if tokenID == "" {
			return fmt.Errorf("--id is required")
		}
		auth := middleware.NewAuthenticator(cfg.JWTSecret, logger.New(cfg.LogLevel))
		tok, err := auth.Issue(domain.Identity{ID: tokenID, Role: role, Name: tokenName}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "subject id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "requester", "requester or provider")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
