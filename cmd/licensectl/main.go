// Package main provides licensectl, the operator CLI for issuing and
// verifying FetchGuard license records.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchkit/fetchguard/internal/license"
)

const version = "1.0.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licensectl",
		Short: "Issue and verify FetchGuard licenses",
		Long: `licensectl manages FetchGuard license records.

Licenses are signed with HMAC-SHA256 using the shared service secret,
read from the FETCHGUARD_SECRET environment variable. The environment
(FETCHGUARD_ENV, default "development") controls whether a development
fallback secret is tolerated.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(issueCmd())
	cmd.AddCommand(verifyCmd())
	cmd.AddCommand(inspectCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "licensectl version %s\n", version)
		},
	})

	return cmd
}

// newService builds the license service from the process environment.
func newService() (*license.Service, error) {
	secret := os.Getenv("FETCHGUARD_SECRET")
	env := os.Getenv("FETCHGUARD_ENV")
	if env == "" {
		env = "development"
	}
	return license.NewService(secret, env)
}

func issueCmd() *cobra.Command {
	var (
		customer string
		tier     string
		founder  bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed license record",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}

			rec, err := svc.Issue(customer, license.Tier(tier), founder)
			if err != nil {
				return err
			}

			raw, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			raw = append(raw, '\n')

			if output != "" {
				if err := os.WriteFile(output, raw, 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", output, rec.LicenseKey)
				return nil
			}

			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "Customer identifier (required)")
	cmd.Flags().StringVar(&tier, "tier", string(license.TierPro), "License tier (FREE, STARTER, PRO, ENTERPRISE)")
	cmd.Flags().BoolVar(&founder, "founder", false, "Issue a non-expiring founder license")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the record to a file instead of stdout")
	_ = cmd.MarkFlagRequired("customer") //nolint:errcheck

	return cmd
}

func verifyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a license record and report its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}

			rec, err := readRecord(file)
			if err != nil {
				return err
			}

			status := svc.Check(rec)
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", status)
			if !status.Entitled() {
				return fmt.Errorf("license is not entitled (%s)", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "License record file (default: user config dir)")
	return cmd
}

func inspectCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the fields of a license record without verifying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecord(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:       %s\n", rec.LicenseKey)
			fmt.Fprintf(out, "customer:  %s\n", rec.Payload.CustomerID)
			fmt.Fprintf(out, "tier:      %s\n", rec.Payload.Tier)
			fmt.Fprintf(out, "founder:   %t\n", rec.Payload.IsFounder)
			fmt.Fprintf(out, "issued:    %s\n", time.UnixMilli(rec.Payload.IssuedAt).UTC().Format(time.RFC3339))
			if exp := rec.Payload.ExpiresAt(); !exp.IsZero() {
				fmt.Fprintf(out, "expires:   %s\n", exp.UTC().Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "expires:   never\n")
			}
			fmt.Fprintf(out, "signature: %s\n", rec.Signature)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "License record file (default: user config dir)")
	return cmd
}

// readRecord loads a license record from the given file, or from the
// default store location when file is empty.
func readRecord(file string) (*license.Record, error) {
	if file == "" {
		store, err := license.NewStore("")
		if err != nil {
			return nil, err
		}
		return store.Load()
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	var rec license.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return &rec, nil
}
