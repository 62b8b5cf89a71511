package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fjod/wa-commerce/internal/config"
	apphttp "github.com/fjod/wa-commerce/internal/http"
	"github.com/fjod/wa-commerce/internal/logger"
	"github.com/fjod/wa-commerce/internal/repository"
	"github.com/fjod/wa-commerce/internal/secret"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "wa-commerce",
		Short:         "Multi-tenant WhatsApp ordering service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(encryptCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg, logger.New(cfg.LogLevel, cfg.LogFormat))
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply MongoDB index migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			var dbCfg struct {
				URI  string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
				Name string `env:"MONGO_DB_NAME" envDefault:"wa_commerce"`
			}
			if err := env.Parse(&dbCfg); err != nil {
				return err
			}
			if err := repository.RunMigrations(dbCfg.URI, dbCfg.Name); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh TENANT_ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [plaintext]",
		Short: "Encrypt a tenant credential under TENANT_ENCRYPTION_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			var keyCfg struct {
				Key string `env:"TENANT_ENCRYPTION_KEY,required"`
			}
			if err := env.Parse(&keyCfg); err != nil {
				return err
			}
			c, err := secret.NewCipher(keyCfg.Key)
			if err != nil {
				return err
			}
			out, err := c.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			var authCfg struct {
				Secret string        `env:"ADMIN_JWT_SECRET,required"`
				TTL    time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`
			}
			if err := env.Parse(&authCfg); err != nil {
				return err
			}
			if ttl == 0 {
				ttl = authCfg.TTL
			}
			token, err := apphttp.IssueAdminToken(authCfg.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "admin", "token subject recorded in audit logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to ADMIN_TOKEN_TTL)")

	return cmd
}
