// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pmc-harvest/internal/docstore"
)

func (a *app) indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [query]",
		Short: "Query or rebuild the full-text document index",
		Long: `Index searches the SQLite full-text index of harvested documents with an
FTS5 query, structured filters (year, venue, document), or both.

Use --rebuild to load every record from the documents directory into the
index, and --export to write the indexed collection as JSON.`,
		RunE: a.runIndex,
	}
	f := cmd.Flags()
	f.String("index", "", "index database (default data/index.db)")
	f.String("documents-dir", "", "document directory read by --rebuild (default data/documents)")
	f.Bool("rebuild", false, "index every document in the documents directory")
	f.String("export", "", "write the indexed documents as JSON to this path")
	f.Int("year", 0, "filter by publication year")
	f.String("venue", "", "filter by journal title")
	f.String("doc", "", "filter by document ID")
	f.Int("max-results", 0, "maximum results (default 20)")
	f.Bool("json", false, "print results as JSON")
	return cmd
}

const defaultIndexPath = "data/index.db"

func (a *app) runIndex(cmd *cobra.Command, args []string) error {
	err := a.bind(cmd, map[string]string{
		"index":         keyIndex,
		"documents-dir": keyDocumentsDir,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := a.pipelineConfig()
	path := cfg.Storage.IndexPath
	if path == "" {
		path = defaultIndexPath
	}

	ix, err := docstore.OpenIndex(path)
	if err != nil {
		return err
	}
	defer ix.Close()

	did := false
	if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
		docs, err := docstore.NewDir(cfg.Storage.DocumentsDir).List(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := ix.Put(ctx, doc); err != nil {
				return fmt.Errorf("indexing %s: %w", doc.ID, err)
			}
		}
		fmt.Fprintf(out, "indexed %d documents from %s\n", len(docs), cfg.Storage.DocumentsDir)
		did = true
	}

	if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
		n, err := ix.ExportJSON(ctx, exportPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %d documents to %s\n", n, exportPath)
		did = true
	}

	opts := docstore.QueryOptions{Query: strings.Join(args, " ")}
	opts.Year, _ = cmd.Flags().GetInt("year")
	opts.Venue, _ = cmd.Flags().GetString("venue")
	opts.DocumentID, _ = cmd.Flags().GetString("doc")
	opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
	if opts.IsEmpty() {
		if did {
			return nil
		}
		return fmt.Errorf("query or filter required: provide a search query, --year, --venue, or --doc")
	}

	hits, err := ix.Search(ctx, opts)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if hits == nil {
			hits = []docstore.Hit{}
		}
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintf(out, "%-4s  %-12s  %-40s  %-20s  %s\n", "Rank", "Document", "Title", "Section", "Text")
	fmt.Fprintln(out, strings.Repeat("-", 110))
	for i, h := range hits {
		fmt.Fprintf(out, "%-4d  %-12s  %-40s  %-20s  %s\n",
			i+1, h.DocumentID, truncate(h.Title, 40), truncate(h.Section, 20), truncate(h.Text, 60))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
