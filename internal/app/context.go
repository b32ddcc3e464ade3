// Package app wires a workspace together: config, database, verifier,
// ranking config, and the transition engine. The CLI and the server both
// bootstrap through here so they always agree on workspace layout.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"nextaction/internal/config"
	"nextaction/internal/db"
	"nextaction/internal/engine"
	"nextaction/internal/migrate"
	"nextaction/internal/rankconfig"
	"nextaction/internal/verifier"
)

// App is an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	RankCfg   *rankconfig.Store
}

// Open loads the workspace config, opens and migrates the database, and
// builds the engine. A missing config file falls back to defaults, so a fresh
// workspace works without running config init first.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	v, err := newVerifier(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg, v),
		RankCfg:   rankconfig.NewStore(cfg.Ranking.ConfigPath),
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func newVerifier(cfg *config.Config) (verifier.Verifier, error) {
	switch cfg.Verifier.Mode {
	case "", "offline":
		return verifier.Offline{}, nil
	case "openai":
		keyEnv := cfg.Verifier.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "VERIFIER_AI_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("verifier mode is openai but %s is not set", keyEnv)
		}
		return verifier.NewClient(cfg.Verifier.BaseURL, apiKey, cfg.Verifier.Model, cfg.VerifierTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown verifier mode %q", cfg.Verifier.Mode)
	}
}
