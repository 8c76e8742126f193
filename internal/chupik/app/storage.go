package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/devdenneg/chupik/internal/chupik/config"
	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/mood"
	"github.com/devdenneg/chupik/internal/chupik/settings"
	"github.com/devdenneg/chupik/internal/chupik/snapshot"
	"github.com/devdenneg/chupik/internal/chupik/stats"
)

// openBackend opens the configured snapshot backend. The SQLite backend
// also returns its connection for the Matrix sync store; db is nil for the
// other backends.
func openBackend(ctx context.Context, cfg config.StorageConfig) (b snapshot.Backend, db *sql.DB, err error) {
	switch cfg.Backend {
	case config.StorageMemory:
		slog.Warn("app: using in-memory storage; state is lost on restart")
		return snapshot.NewMemory(), nil, nil
	case config.StorageFile:
		slog.Info("app: using file storage", "dir", cfg.Dir)
		f, err := snapshot.NewFile(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	case config.StorageSQLite:
		slog.Info("app: opening database", "path", cfg.DBPath)
		s, err := snapshot.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.DB(), nil
	case config.StorageRedis:
		slog.Info("app: connecting to redis", "addr", cfg.RedisAddr)
		r, err := snapshot.NewRedis(ctx, snapshot.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown storage backend %q", cfg.Backend)
	}
}

// stores are the persisted components.
type stores struct {
	knowledge *knowledge.Store
	moods     *mood.Engine
	settings  *settings.Registry
	stats     *stats.Tracker
}

// restore loads every document into its store. Malformed documents are
// skipped by the writer; backend failures abort startup.
func (s stores) restore(ctx context.Context, w *snapshot.Writer) error {
	var (
		facts    map[string][]knowledge.Fact
		profiles map[string]knowledge.Profile
		rules    map[string][]knowledge.Rule
		moods    map[string]mood.State
		chats    map[string]settings.ChatSettings
		days     map[string]stats.Day
	)

	docs := []struct {
		name  string
		into  any
		apply func()
	}{
		{knowledge.FactsSnapshot, &facts, func() { s.knowledge.RestoreFacts(facts) }},
		{knowledge.ProfilesSnapshot, &profiles, func() { s.knowledge.RestoreProfiles(profiles) }},
		{knowledge.RulesSnapshot, &rules, func() { s.knowledge.RestoreRules(rules) }},
		{mood.SnapshotName, &moods, func() { s.moods.Restore(moods) }},
		{settings.SnapshotName, &chats, func() { s.settings.Restore(chats) }},
		{stats.SnapshotName, &days, func() { s.stats.Restore(days) }},
	}
	for _, d := range docs {
		ok, err := w.Restore(ctx, d.name, d.into)
		if err != nil {
			return fmt.Errorf("app: restore %s: %w", d.name, err)
		}
		if ok {
			d.apply()
		}
		slog.Debug("app: document restored", "name", d.name, "found", ok)
	}
	slog.Info("app: state restored", "facts", s.knowledge.TotalFacts())
	return nil
}
