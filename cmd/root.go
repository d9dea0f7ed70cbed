package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mycelica/wot/internal/config"
	"mycelica/wot/internal/db"
	"mycelica/wot/internal/logger"
	"mycelica/wot/internal/wot"
)

const dbFileName = ".wot.db"

var (
	dbPath   string
	logLevel string
	jsonOut  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "wot",
	Short:         "Decentralized web of trust",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			level = os.Getenv(config.Prefix + "_LOG_LEVEL")
		}
		log.Logger = logger.NewConsole("wot", level)

		var err error
		cfg, err = config.New()
		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if wot.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "error:", err)
		} else {
			fmt.Fprintln(os.Stderr, "internal error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to .wot.db database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output as JSON")
}

// DiscoverDB finds the database path using priority: env > flag > walk-up > XDG fallback.
// The XDG path is returned even if it does not exist yet; opening creates it.
func DiscoverDB() (string, error) {
	// 1. Environment variable
	if cfg != nil && cfg.DBPath != "" {
		return cfg.DBPath, nil
	}

	// 2. CLI flag
	if dbPath != "" {
		if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
			return "", fmt.Errorf("directory of --db path does not exist: %s", dbPath)
		}
		return dbPath, nil
	}

	// 3. Walk up from CWD
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, dbFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	// 4. XDG fallback
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("no %s found and no home directory: %w", dbFileName, err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	xdgDir := filepath.Join(dataHome, "wot")
	if err := os.MkdirAll(xdgDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", xdgDir, err)
	}
	return filepath.Join(xdgDir, "wot.db"), nil
}

// OpenWoT discovers and opens the database and wraps it in a WebOfTrust.
// The caller closes the returned store.
func OpenWoT(opts ...wot.Option) (*wot.WebOfTrust, *db.DB, error) {
	path, err := DiscoverDB()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("path", path).Msg("database opened")

	base := []wot.Option{wot.WithLogger(log.Logger)}
	if cfg != nil {
		base = append(base,
			wot.WithSeeds(cfg.SeedKeys, cfg.SeedComment),
			wot.WithTxTimeout(cfg.TxTimeout),
			wot.WithMaxCommentLength(cfg.MaxCommentLength),
		)
	}
	return wot.New(store, append(base, opts...)...), store, nil
}

// ResolveIdentity finds an identity by full ID, request key, unique ID
// prefix or nickname.
func ResolveIdentity(ctx context.Context, w *wot.WebOfTrust, reference string) (*db.Identity, error) {
	// 1. Exact ID match
	identity, err := w.GetIdentity(ctx, reference)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, wot.ErrNotFound) {
		return nil, err
	}

	// 2. Request key
	if strings.HasPrefix(reference, "npub1") {
		return w.GetIdentityByRequestKey(ctx, reference)
	}

	// 3. ID prefix or nickname
	matches, err := w.SearchIdentities(ctx, reference, 10)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", wot.ErrUnknownIdentity, reference)
	case 1:
		return &matches[0], nil
	default:
		lines := make([]string, len(matches))
		for i, m := range matches {
			lines[i] = fmt.Sprintf("  %s %s", truncID(m.ID), m.DisplayName())
		}
		return nil, fmt.Errorf("%w: ambiguous reference '%s'. %d matches:\n%s\nUse a full identity ID instead.",
			wot.ErrInvalidParameter, reference, len(matches), strings.Join(lines, "\n"))
	}
}

// resolveOwn is ResolveIdentity restricted to own identities.
func resolveOwn(ctx context.Context, w *wot.WebOfTrust, reference string) (*db.Identity, error) {
	identity, err := ResolveIdentity(ctx, w, reference)
	if err != nil {
		return nil, err
	}
	if !identity.IsOwn() {
		return nil, fmt.Errorf("%w: %s", wot.ErrNotOwnIdentity, identity.DisplayName())
	}
	return identity, nil
}
