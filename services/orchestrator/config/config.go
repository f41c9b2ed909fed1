// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads orchestrator configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, then
// REPLYFORGE_* environment variables. The config file is optional; a missing
// file just means defaults plus env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the orchestrator's full configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
}

type StorageConfig struct {
	// DataDir holds the Badger document store. Empty means in-memory, which
	// is only useful for tests.
	DataDir string `yaml:"data_dir"`
}

type WeaviateConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
}

type EmbeddingConfig struct {
	// Backend is "openai" or "http" (any sidecar speaking the batch embed
	// protocol, e.g. a local sentence-transformers server).
	Backend   string `yaml:"backend"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend string `yaml:"backend"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type IngestConfig struct {
	FetchTimeoutSec int `yaml:"fetch_timeout_sec"`
	MaxFetchBytes   int `yaml:"max_fetch_bytes"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// FetchTimeout returns the fetch timeout as a duration.
func (c IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// Default returns the self-hosted defaults: everything local, telemetry off.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:     ":8080",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			DataDir: "/var/lib/replyforge",
		},
		Weaviate: WeaviateConfig{
			Scheme: "http",
			Host:   "localhost:8081",
		},
		Embedding: EmbeddingConfig{
			Backend:   "http",
			BaseURL:   "http://localhost:9090",
			Dimension: 768,
		},
		LLM: LLMConfig{
			Backend: "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Ingest: IngestConfig{
			FetchTimeoutSec: 30,
			MaxFetchBytes:   10 * 1024 * 1024,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the config from defaults, the optional YAML file at path, and
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays REPLYFORGE_* variables onto the config.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("REPLYFORGE_ADDR", &cfg.Server.Addr)
	setString("REPLYFORGE_LOG_LEVEL", &cfg.Server.LogLevel)
	setString("REPLYFORGE_DATA_DIR", &cfg.Storage.DataDir)
	setString("REPLYFORGE_WEAVIATE_SCHEME", &cfg.Weaviate.Scheme)
	setString("REPLYFORGE_WEAVIATE_HOST", &cfg.Weaviate.Host)
	setString("REPLYFORGE_EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	setString("REPLYFORGE_EMBEDDING_URL", &cfg.Embedding.BaseURL)
	setInt("REPLYFORGE_EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)
	setString("REPLYFORGE_LLM_BACKEND", &cfg.LLM.Backend)
	setString("REPLYFORGE_LLM_URL", &cfg.LLM.BaseURL)
	setString("REPLYFORGE_LLM_MODEL", &cfg.LLM.Model)
	setInt("REPLYFORGE_FETCH_TIMEOUT_SEC", &cfg.Ingest.FetchTimeoutSec)
	setInt("REPLYFORGE_MAX_FETCH_BYTES", &cfg.Ingest.MaxFetchBytes)
	setString("REPLYFORGE_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	if v := os.Getenv("REPLYFORGE_TELEMETRY"); v != "" {
		cfg.Telemetry.Enabled = v == "1" || v == "true"
	}
}

// Watch reloads the config whenever the file changes and calls onChange with
// the fresh value. It returns a stop function. Reload errors are reported to
// onError and the previous config stays active.
func Watch(path string, onChange func(Config), onError func(error)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					onError(err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
