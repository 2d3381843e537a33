package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/lumeon/arbiter/internal/config"
	"github.com/lumeon/arbiter/internal/db"
	"github.com/spf13/viper"
)

func openDB() (*sql.DB, string, func(), error) {
	workRoot, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	arbiterDir := filepath.Join(workRoot, ".arbiter")
	if err := os.MkdirAll(arbiterDir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	dbPath := filepath.Join(arbiterDir, "arbiter.db")
	storeDB, err := db.Open(dbPath)
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, workRoot, func() { _ = storeDB.Close() }, nil
}

func loadConfig(workRoot string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(".arbiter", "config.yaml")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workRoot, path)
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			// No file is fine; run on defaults.
			return config.Default(), nil
		}
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := config.ValidateSettings(viper.AllSettings()); err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
