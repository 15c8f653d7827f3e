package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourcejob/controlplane/internal/db"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Register and manage connector/processor modules (§3 Module)",
}

var (
	moduleCreateName       string
	moduleCreateKind       string
	moduleCreateTrustLevel string
	moduleCreateScopes     string
)

var moduleCreateCmd = &cobra.Command{
	Use:   "create MODULE_ID",
	Short: "Register a new module and print its one-time API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID := args[0]

		kind := module.Kind(moduleCreateKind)
		if !kind.IsValid() {
			return fmt.Errorf("invalid kind %q (want connector|processor)", moduleCreateKind)
		}
		trustLevel := module.TrustLevel(moduleCreateTrustLevel)
		if !trustLevel.IsValid() {
			return fmt.Errorf("invalid trust level %q (want trusted|semi_trusted|untrusted)", moduleCreateTrustLevel)
		}

		var scopes []string
		for _, s := range strings.Split(moduleCreateScopes, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				scopes = append(scopes, s)
			}
		}

		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		modulesRepo := postgres.NewModulesRepo(pool, nil)

		m := module.New(module.CreateRequest{
			ModuleID:   moduleID,
			Name:       moduleCreateName,
			Kind:       kind,
			Scopes:     scopes,
			TrustLevel: trustLevel,
		})
		if err := modulesRepo.Create(ctx, m); err != nil {
			return fmt.Errorf("create module: %w", err)
		}

		rawKey, err := generateAPIKey()
		if err != nil {
			return fmt.Errorf("generate api key: %w", err)
		}
		if err := modulesRepo.SetCredential(ctx, m.ID, module.HashAPIKey(rawKey)); err != nil {
			return fmt.Errorf("set credential: %w", err)
		}

		fmt.Printf("module registered: id=%s moduleId=%s\n", m.ID, m.ModuleID)
		fmt.Printf("api key (save this, it is shown once): %s\n", rawKey)
		return nil
	},
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		modulesRepo := postgres.NewModulesRepo(pool, nil)
		modules, err := modulesRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("list modules: %w", err)
		}
		for _, m := range modules {
			fmt.Printf("%s\tmoduleId=%s\tname=%s\tkind=%s\ttrust=%s\tenabled=%t\tscopes=%s\n",
				m.ID, m.ModuleID, m.Name, m.Kind, m.TrustLevel, m.Enabled, strings.Join(m.Scopes, ","))
		}
		return nil
	},
}

var moduleSetEnabledCmd = &cobra.Command{
	Use:   "set-enabled MODULE_DB_ID true|false",
	Short: "Enable or disable a module",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := args[1] == "true"
		if !enabled && args[1] != "false" {
			return fmt.Errorf("second argument must be true or false, got %q", args[1])
		}

		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		modulesRepo := postgres.NewModulesRepo(pool, nil)
		if err := modulesRepo.SetEnabled(ctx, args[0], enabled); err != nil {
			return fmt.Errorf("set enabled: %w", err)
		}
		fmt.Printf("module %s enabled=%t\n", args[0], enabled)
		return nil
	},
}

var moduleRotateCredentialCmd = &cobra.Command{
	Use:   "rotate-credential MODULE_DB_ID",
	Short: "Revoke a module's current API key and issue a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := db.NewPool(resolveDBURL(), db.PoolConfig{MaxConns: 4, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		modulesRepo := postgres.NewModulesRepo(pool, nil)
		rawKey, err := generateAPIKey()
		if err != nil {
			return fmt.Errorf("generate api key: %w", err)
		}
		if err := modulesRepo.SetCredential(ctx, args[0], module.HashAPIKey(rawKey)); err != nil {
			return fmt.Errorf("rotate credential: %w", err)
		}
		fmt.Printf("api key (save this, it is shown once): %s\n", rawKey)
		return nil
	},
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sjk_" + hex.EncodeToString(buf), nil
}

func init() {
	moduleCreateCmd.Flags().StringVar(&moduleCreateName, "name", "", "human-readable module name")
	moduleCreateCmd.Flags().StringVar(&moduleCreateKind, "kind", "connector", "connector|processor")
	moduleCreateCmd.Flags().StringVar(&moduleCreateTrustLevel, "trust-level", "untrusted", "trusted|semi_trusted|untrusted")
	moduleCreateCmd.Flags().StringVar(&moduleCreateScopes, "scopes", "", "comma-separated scope list, e.g. discoveries:write,jobs:read")
	_ = moduleCreateCmd.MarkFlagRequired("name")

	moduleCmd.AddCommand(moduleCreateCmd, moduleListCmd, moduleSetEnabledCmd, moduleRotateCredentialCmd)
	rootCmd.AddCommand(moduleCmd)
}
