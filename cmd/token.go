/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/handlers"
	"github.com/spf13/cobra"
)

var (
	tokenRole    string
	tokenSubject string
	tokenCompany string
	tokenTTL     time.Duration
)

// tokenCmd mints a bearer token signed with JWT_SECRET for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.Env == config.EnvProduction {
			return errors.New("tokens cannot be minted in production")
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is required")
		}
		if tokenRole != handlers.RoleRecruiter && tokenRole != handlers.RoleCandidate {
			return fmt.Errorf("--role must be %s or %s", handlers.RoleRecruiter, handlers.RoleCandidate)
		}

		principal := handlers.Principal{Role: tokenRole}
		var err error
		if tokenSubject == "" {
			principal.UserID = uuid.New()
		} else if principal.UserID, err = uuid.Parse(tokenSubject); err != nil {
			return fmt.Errorf("invalid --subject: %w", err)
		}
		if tokenCompany != "" {
			if principal.CompanyID, err = uuid.Parse(tokenCompany); err != nil {
				return fmt.Errorf("invalid --company: %w", err)
			}
		}
		if tokenRole == handlers.RoleRecruiter && principal.CompanyID == uuid.Nil {
			return errors.New("--company is required for recruiters")
		}

		token, err := handlers.IssueToken(cfg.JWTSecret, principal, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenRole, "role", handlers.RoleCandidate, "recruiter or candidate")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "user id (random when empty)")
	tokenCmd.Flags().StringVar(&tokenCompany, "company", "", "company id for recruiters")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}
