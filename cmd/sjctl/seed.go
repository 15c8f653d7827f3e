package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/sourcejob/controlplane/internal/db"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/domain/trustpolicy"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
	"github.com/sourcejob/controlplane/internal/urlnorm"
)

// seedFile is the TOML document sjctl seed reads, mirroring the two
// admin-seeded tables §4.4 and §4.5 step 1 read at runtime:
// source_trust_policies and url_normalization_overrides.
type seedFile struct {
	TrustPolicies []seedTrustPolicy `toml:"trust_policies"`
	URLOverrides  []seedURLOverride `toml:"url_overrides"`
}

type seedTrustPolicy struct {
	SourceKey          string  `toml:"source_key"`
	TrustLevel         string  `toml:"trust_level"`
	AutoPublish        bool    `toml:"auto_publish"`
	RequiresModeration bool    `toml:"requires_moderation"`
	MinConfidence      *float64 `toml:"min_confidence"`
	Enabled            bool    `toml:"enabled"`
}

type seedURLOverride struct {
	HostSuffix         string   `toml:"host_suffix"`
	StripWWW           bool     `toml:"strip_www"`
	ForceHTTPS         bool     `toml:"force_https"`
	StripQueryParams   []string `toml:"strip_query_params"`
	StripQueryPrefixes []string `toml:"strip_query_prefixes"`
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE.toml",
	Short: "Apply trust-policy and URL-normalization-override rows from a TOML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}

		var doc seedFile
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}

		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		trustPolicyRepo := postgres.NewTrustPolicyRepo(pool, nil)
		overridesRepo := postgres.NewOverridesRepo(pool, nil)

		for _, tp := range doc.TrustPolicies {
			level := module.TrustLevel(tp.TrustLevel)
			if !level.IsValid() {
				return fmt.Errorf("trust policy %q: invalid trust_level %q", tp.SourceKey, tp.TrustLevel)
			}
			rules := trustpolicy.Rules{MinConfidence: tp.MinConfidence}
			if err := rules.Validate(); err != nil {
				return fmt.Errorf("trust policy %q: %w", tp.SourceKey, err)
			}
			policy := trustpolicy.Policy{
				SourceKey:          tp.SourceKey,
				TrustLevel:         level,
				AutoPublish:        tp.AutoPublish,
				RequiresModeration: tp.RequiresModeration,
				Rules:              rules,
				Enabled:            tp.Enabled,
			}
			if err := trustPolicyRepo.Upsert(ctx, policy); err != nil {
				return fmt.Errorf("upsert trust policy %q: %w", tp.SourceKey, err)
			}
			fmt.Printf("trust policy applied: %s\n", tp.SourceKey)
		}

		for _, ov := range doc.URLOverrides {
			override := urlnorm.Override{
				HostSuffix:         ov.HostSuffix,
				StripWWW:           ov.StripWWW,
				ForceHTTPS:         ov.ForceHTTPS,
				StripQueryParams:   ov.StripQueryParams,
				StripQueryPrefixes: ov.StripQueryPrefixes,
			}
			if err := overridesRepo.Upsert(ctx, override); err != nil {
				return fmt.Errorf("upsert url override %q: %w", ov.HostSuffix, err)
			}
			fmt.Printf("url override applied: %s\n", ov.HostSuffix)
		}

		return nil
	},
}

var seedDumpCmd = &cobra.Command{
	Use:   "seed-dump",
	Short: "Print the currently configured trust policies and URL overrides as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		trustPolicyRepo := postgres.NewTrustPolicyRepo(pool, nil)
		overridesRepo := postgres.NewOverridesRepo(pool, nil)

		policies, err := trustPolicyRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("list trust policies: %w", err)
		}
		overrides, err := overridesRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("list url overrides: %w", err)
		}

		var doc seedFile
		for _, p := range policies {
			doc.TrustPolicies = append(doc.TrustPolicies, seedTrustPolicy{
				SourceKey:          p.SourceKey,
				TrustLevel:         string(p.TrustLevel),
				AutoPublish:        p.AutoPublish,
				RequiresModeration: p.RequiresModeration,
				MinConfidence:      p.Rules.MinConfidence,
				Enabled:            p.Enabled,
			})
		}
		for _, o := range overrides {
			doc.URLOverrides = append(doc.URLOverrides, seedURLOverride{
				HostSuffix:         o.HostSuffix,
				StripWWW:           o.StripWWW,
				ForceHTTPS:         o.ForceHTTPS,
				StripQueryParams:   o.StripQueryParams,
				StripQueryPrefixes: o.StripQueryPrefixes,
			})
		}

		return toml.NewEncoder(os.Stdout).Encode(doc)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(seedDumpCmd)
}
