// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pmc-harvest/internal/entrez"
	"github.com/pdiddy/pmc-harvest/internal/harvest"
	"github.com/pdiddy/pmc-harvest/internal/ratelimit"
)

func (a *app) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run an Entrez search and list matching record IDs",
		Long: `Search runs an esearch query against the configured database and prints
the matching record IDs. Use --save to write them to a YAML file that
collect --ids-file accepts.`,
		RunE: a.runSearch,
	}
	f := cmd.Flags()
	f.String("query", "", "Entrez query (alternative to the positional argument)")
	f.Int("max-results", 0, "maximum IDs to return (default 20)")
	f.String("save", "", "write the result to a YAML id file")
	f.Bool("json", false, "print the result as JSON")
	f.String("base-url", "", "E-utilities base URL")
	f.String("database", "", "Entrez database: pmc or pubmed")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, args []string) error {
	err := a.bind(cmd, map[string]string{
		"max-results": keySearchLimit,
		"base-url":    keyBaseURL,
		"database":    keyDatabase,
	})
	if err != nil {
		return err
	}

	query, _ := cmd.Flags().GetString("query")
	if query == "" {
		query = strings.Join(args, " ")
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("provide a query as an argument or with --query")
	}

	cfg := a.pipelineConfig()
	client := entrez.New(cfg.Entrez, ratelimit.New(cfg.RateLimit), cfg.Retry)

	ids, err := client.Search(cmd.Context(), query, cfg.Entrez.SearchLimit)
	if err != nil {
		return err
	}

	idf := harvest.IDFile{Query: query, Database: client.Database(), IDs: ids, Total: len(ids)}
	if path, _ := cmd.Flags().GetString("save"); path != "" {
		if err := harvest.WriteIDFile(path, idf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved %d ids to %s\n", len(ids), path)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Query    string   `json:"query"`
			Database string   `json:"database"`
			IDs      []string `json:"ids"`
		}{idf.Query, idf.Database, nonNil(ids)})
	}

	if len(ids) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
