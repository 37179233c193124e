// seed prepares a fresh database: it applies migrations, creates the first
// admin account and stores a default restaurant configuration.
//
// Usage:
//
//	seed admin --email admin@comanda.local --password secret123
//	seed config --name "Comanda" --lat 52.52 --lng 13.40
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:           "seed",
		Short:         "Seed the comanda database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection URL")

	rootCmd.AddCommand(adminCmd(cfg, logger))
	rootCmd.AddCommand(configCmd(cfg, logger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func adminCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Create the first admin account if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = "password123"
				logger.Warn("using default password, change it immediately in production")
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}

			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			return seedAdmin(ctx, database.New(pool), logger, strings.ToLower(email), password, name)
		},
	}

	cmd.Flags().StringVar(&email, "email", envOr("SEED_EMAIL", "admin@comanda.local"), "Admin email address")
	cmd.Flags().StringVar(&password, "password", os.Getenv("SEED_PASSWORD"), "Admin password")
	cmd.Flags().StringVar(&name, "name", envOr("SEED_NAME", "Comanda Admin"), "Admin full name")
	return cmd
}

// seedAdmin is idempotent on email.
func seedAdmin(ctx context.Context, q *database.Queries, logger *zap.Logger, email, password, name string) error {
	existing, err := q.GetUserByEmail(ctx, email)
	if err == nil {
		logger.Info("admin already exists, skipping", zap.String("email", email), zap.String("id", existing.ID.String()))
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := q.CreateUser(ctx, database.CreateUserParams{
		Email:          email,
		FullName:       name,
		HashedPassword: string(hashed),
		Role:           enum.UserRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	logger.Info("created admin", zap.String("email", email), zap.String("id", user.ID.String()))
	return nil
}

func configCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var (
		rc    database.RestaurantConfig
		force bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Store the default restaurant configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			q := database.New(pool)

			if !force {
				if _, err := q.GetRestaurantConfig(ctx); err == nil {
					logger.Info("restaurant config already exists, skipping")
					return nil
				} else if !errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("check restaurant config: %w", err)
				}
			}

			saved, err := q.UpsertRestaurantConfig(ctx, rc)
			if err != nil {
				return fmt.Errorf("save restaurant config: %w", err)
			}
			logger.Info("stored restaurant config", zap.String("name", saved.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&rc.Name, "name", "Comanda", "Restaurant name")
	cmd.Flags().StringVar(&rc.LogoURL, "logo-url", "", "Logo URL")
	cmd.Flags().Float64Var(&rc.Latitude, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&rc.Longitude, "lng", 0, "Longitude")
	cmd.Flags().Int32Var(&rc.DeliveryRange, "delivery-range", 5000, "Delivery range in meters")
	cmd.Flags().StringVar(&rc.FontFamily, "font", "Inter", "Font family")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
