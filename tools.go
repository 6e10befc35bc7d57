//go:build tools
// +build tools

// Package tools imports dependencies that are used by this project but not directly
// imported in the main codebase. This ensures they are tracked in go.mod.
package tools

import (
	// Configuration
	_ "github.com/spf13/viper"

	// Logging
	_ "github.com/rs/zerolog"

	// Database
	_ "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	// Utilities
	_ "github.com/go-playground/validator/v10"
	_ "github.com/google/uuid"
	_ "github.com/hashicorp/golang-lru/v2"

	// CLI
	_ "github.com/spf13/cobra"

	// Rate limiting
	_ "golang.org/x/time/rate"

	// Concurrency
	_ "golang.org/x/sync/errgroup"

	// Metrics
	_ "github.com/prometheus/client_golang/prometheus"

	// Testing
	_ "github.com/stretchr/testify/assert"
	_ "github.com/stretchr/testify/require"
)
