// Command sjctl is the operator CLI for the control plane: database
// migrations, bootstrap module/credential management, and seeding the
// trust-policy and URL-normalization-override tables that §4.4 and
// §4.5 read at runtime (§6 "CLI / env").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfg is the viper instance backing every subcommand's flags. Bound
// once in initConfig so SJ_-prefixed env vars (consistent with
// internal/config's runtime convention) and an optional config file
// both resolve through the same precedence: flag > env > file > default.
var cfg = viper.New()

var rootCmd = &cobra.Command{
	Use:   "sjctl",
	Short: "sjctl - sourcejob control plane operator CLI",
	Long:  "Administers the sourcejob control plane: schema migrations, module registration, and trust-policy / URL-override seeding.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "path to a sjctl config file (yaml/toml/json)")
	rootCmd.PersistentFlags().String("db-url", "", "postgres DSN (defaults to SJ_DATABASE_URL / SJ_DB_* env vars)")
	_ = cfg.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = cfg.BindPFlag("db-url", rootCmd.PersistentFlags().Lookup("db-url"))
}

func initConfig() {
	cfg.SetEnvPrefix("SJ")
	cfg.AutomaticEnv()

	if path := cfg.GetString("config"); path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "sjctl: failed to read config file %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

// resolveDBURL applies the same precedence sjctl advertises: the
// --db-url flag, then SJ_DATABASE_URL, then the discrete SJ_DB_* parts
// internal/config.Load assembles at API startup.
func resolveDBURL() string {
	if url := cfg.GetString("db-url"); url != "" {
		return url
	}
	if url := os.Getenv("SJ_DATABASE_URL"); url != "" {
		return url
	}
	return buildDBURLFromParts()
}

func buildDBURLFromParts() string {
	host := envOr("SJ_DB_HOST", "127.0.0.1")
	port := envOr("SJ_DB_PORT", "5432")
	user := envOr("SJ_DB_USER", "sourcejob")
	pass := envOr("SJ_DB_PASSWORD", "sourcejob")
	name := envOr("SJ_DB_NAME", "sourcejob")
	ssl := envOr("SJ_DB_SSLMODE", "disable")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
