//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Pipeline runs the harvest stages through the CLI.
type Pipeline mg.Namespace

func pmcHarvest(args ...string) error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), args...)
}

// Search runs a query and saves the matching IDs to data/ids/<slug>.yaml.
func (Pipeline) Search(query string) error {
	mg.Deps(Init)
	out := filepath.Join("data", "ids", querySlug(query)+".yaml")
	return pmcHarvest("search", query, "--save", out)
}

// Collect harvests the identifiers in idsFile, resuming any prior checkpoint.
func (Pipeline) Collect(idsFile string) error {
	if _, err := os.Stat(idsFile); err != nil {
		return fmt.Errorf("ids file: %w", err)
	}
	return pmcHarvest("collect", "--ids-file", idsFile, "--resume", "--index", "data/index.db")
}

// Status summarizes the current checkpoint.
func (Pipeline) Status() error {
	return pmcHarvest("status")
}

// Reindex rebuilds the full-text index from the document directory.
func (Pipeline) Reindex() error {
	return pmcHarvest("index", "--rebuild")
}

func querySlug(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return "query"
	}
	return s
}
