package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/l0kol/IPledge/internal/adapters/security"
	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fundctl",
		Short:        "Operator tooling for the IPledge funding engine",
		SilenceUsage: true,
	}
	root.AddCommand(newValidateTiersCmd(), newDistributeCmd(), newTokenCmd())
	return root
}

func newValidateTiersCmd() *cobra.Command {
	var tiersPath string
	cmd := &cobra.Command{
		Use:   "validate-tiers",
		Short: "Check a tier table file",
		Long:  "Parses a YAML tier table (a top-level tiers list, or the policy.tiers block of a service config) and reports the first problem found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := loadTiers(tiersPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d tiers\n", len(table))
			return nil
		},
	}
	cmd.Flags().StringVar(&tiersPath, "tiers", "", "path to the tier table YAML")
	_ = cmd.MarkFlagRequired("tiers")
	return cmd
}

func newDistributeCmd() *cobra.Command {
	var (
		tiersPath string
		amount    string
	)
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Preview how a revenue amount splits across creator, investor and protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := domain.DefaultTierTable()
			if tiersPath != "" {
				loaded, err := loadTiers(tiersPath)
				if err != nil {
					return err
				}
				table = loaded
			}
			value, err := domain.ParseMoney(amount)
			if err != nil {
				return err
			}
			alloc, err := table.Distribute(value)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Amount     domain.Money      `json:"amount"`
				Allocation domain.Allocation `json:"allocation"`
			}{value, alloc})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "revenue amount in major units, e.g. 25000 or 125.50")
	cmd.Flags().StringVar(&tiersPath, "tiers", "", "path to a tier table YAML; defaults to the built-in table")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		issuer  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for local testing",
		Long:  "Signs a token with JWT_HMAC_SECRET. Only useful against a runtime configured with the same secret.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := security.NewHMACTokenVerifier(os.Getenv("JWT_HMAC_SECRET"), issuer)
			if err != nil {
				return err
			}
			switch role {
			case application.RoleCreator, application.RoleBacker, application.RoleOperator, application.RoleService:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			now := time.Now().UTC()
			token, err := signer.Sign(ports.AuthClaims{SubjectID: subject, Role: role, ExpiresAt: now.Add(ttl)}, now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", application.RoleBacker, "creator, backer, operator or service")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim; must match JWT_ISSUER when the runtime sets one")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

type tierFile struct {
	Tiers  []domain.TierSpec `yaml:"tiers"`
	Policy struct {
		Tiers []domain.TierSpec `yaml:"tiers"`
	} `yaml:"policy"`
}

func loadTiers(path string) (domain.TierTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers: %w", err)
	}
	var f tierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	specs := f.Tiers
	if len(specs) == 0 {
		specs = f.Policy.Tiers
	}
	return domain.ParseTierTable(specs)
}
