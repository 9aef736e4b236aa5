// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pmc-harvest/internal/checkpoint"
	"github.com/pdiddy/pmc-harvest/internal/docstore"
	"github.com/pdiddy/pmc-harvest/internal/harvest"
)

const articleTemplate = `<?xml version="1.0"?>
<pmc-articleset><article article-type="research-article"><front>
<journal-meta><journal-title-group><journal-title>Aging Cell</journal-title></journal-title-group></journal-meta>
<article-meta>
<article-id pub-id-type="pmc">%s</article-id>
<title-group><article-title>Record %s</article-title></title-group>
<pub-date pub-type="epub"><year>2022</year></pub-date>
</article-meta></front>
<body><sec><title>Introduction</title><p>Senescent cells accumulate with age.</p></sec></body>
</article></pmc-articleset>`

// newEutils serves esearch and efetch for a small fixed corpus.
func newEutils(t *testing.T) *httptest.Server {
	t.Helper()
	search := map[string]string{
		"31000001[pmid]":    `{"esearchresult":{"count":"1","idlist":["555"]}}`,
		"31000002[pmid]":    `{"esearchresult":{"count":"2","idlist":["8","9"]}}`,
		"10.1000/none[doi]": `{"esearchresult":{"count":"0","idlist":[]}}`,
		"senescence[title]": `{"esearchresult":{"count":"2","idlist":["123","555"]}}`,
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/esearch.fcgi":
			body, ok := search[q.Get("term")]
			if !ok {
				body = `{"esearchresult":{"count":"0","idlist":[]}}`
			}
			w.Write([]byte(body))
		case "/efetch.fcgi":
			id := "PMC" + q.Get("id")
			fmt.Fprintf(w, articleTemplate, id, id)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(append(args, "--secrets-dir", filepath.Join(t.TempDir(), "none"), "--log-level", "error"), &out, &errOut)
	return out.String(), err
}

func TestCollectEndToEnd(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	docsDir := filepath.Join(dir, "documents")

	out, err := execute(t, "collect", "PMC123", "31000001", "31000002", "10.1000/none", "pmc123",
		"--base-url", ts.URL, "--rate", "1000", "--checkpoint", cpPath, "--documents-dir", docsDir,
		"--checkpoint-interval", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded: 2, failed: 1, ambiguous: 1, pending: 0, skipped: 0")
	assert.Contains(t, out, "10.1000/none: not found")
	assert.Contains(t, out, "31000002: PMC8, PMC9")
	assert.Contains(t, out, "wrote 2 documents")

	cp, err := checkpoint.NewFileStore(cpPath).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1000/none", "31000001", "31000002", "PMC123"}, cp.ProcessedIDs.Sorted())

	doc, err := docstore.NewDir(docsDir).Get("PMC555")
	require.NoError(t, err)
	assert.Equal(t, "Record PMC555", doc.Title)
	assert.Equal(t, "Aging Cell", doc.Meta.Venue)
	assert.Equal(t, 2022, doc.Meta.Year)

	// A resumed run fetches nothing new.
	out, err = execute(t, "collect", "PMC123", "31000001", "--resume",
		"--base-url", ts.URL, "--rate", "1000", "--checkpoint", cpPath, "--documents-dir", docsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped: 2")
}

func TestCollectKeepsExistingCheckpointWithoutResume(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	common := []string{"--base-url", ts.URL, "--rate", "1000", "--checkpoint", cpPath,
		"--documents-dir", filepath.Join(dir, "docs")}

	_, err := execute(t, append([]string{"collect", "PMC123", "10.1000/none"}, common...)...)
	require.NoError(t, err)

	_, err = execute(t, append([]string{"collect", "PMC555"}, common...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	store := checkpoint.NewFileStore(cpPath)
	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1000/none", "PMC123"}, cp.ProcessedIDs.Sorted())

	_, err = execute(t, append([]string{"collect", "PMC555", "--resume", "--fresh"}, common...)...)
	require.Error(t, err)

	_, err = execute(t, append([]string{"collect", "PMC555", "--fresh"}, common...)...)
	require.NoError(t, err)
	cp, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PMC555"}, cp.ProcessedIDs.Sorted())
}

func TestCollectRequiresIdentifiers(t *testing.T) {
	_, err := execute(t, "collect", "--checkpoint", filepath.Join(t.TempDir(), "cp.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provide identifiers")
}

func TestSearchSaveThenCollectFromFile(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	idPath := filepath.Join(dir, "senescence.yaml")

	out, err := execute(t, "search", "senescence[title]", "--base-url", ts.URL, "--save", idPath)
	require.NoError(t, err)
	assert.Equal(t, "PMC123\nPMC555\n", out)

	ids, err := harvest.LoadIdentifiers(idPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"PMC123", "PMC555"}, ids)

	out, err = execute(t, "collect", "--ids-file", idPath, "--base-url", ts.URL, "--rate", "1000",
		"--checkpoint", filepath.Join(dir, "cp.json"), "--documents-dir", filepath.Join(dir, "docs"))
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded: 2")
}

func TestSearchJSON(t *testing.T) {
	ts := newEutils(t)
	out, err := execute(t, "search", "--query", "nothing[title]", "--json", "--base-url", ts.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"nothing[title]","database":"pmc","ids":[]}`, out)
}

func TestStatusAndClearFailed(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	_, err := execute(t, "collect", "PMC123", "10.1000/none", "--base-url", ts.URL, "--rate", "1000",
		"--checkpoint", cpPath, "--documents-dir", filepath.Join(dir, "docs"))
	require.NoError(t, err)

	out, err := execute(t, "status", "--checkpoint", cpPath)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded: 1, failed: 1")
	assert.Contains(t, out, "10.1000/none: not found")

	out, err = execute(t, "status", "--checkpoint", cpPath, "--clear-failed")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 failed identifiers")

	out, err = execute(t, "status", "--checkpoint", cpPath, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":1,"succeeded":1,"failed":0,"ambiguous":0}`, out)
}

func TestStatusClearFailedNormalizesArguments(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	_, err := execute(t, "collect", "PMC123", "10.1000/none", "--base-url", ts.URL, "--rate", "1000",
		"--checkpoint", cpPath, "--documents-dir", filepath.Join(dir, "docs"))
	require.NoError(t, err)

	out, err := execute(t, "status", "--checkpoint", cpPath, "--clear-failed", "pmc123", "https://doi.org/10.1000/NONE")
	require.NoError(t, err)
	assert.Equal(t, "cleared 1 failed identifiers\n  10.1000/none\n", out)

	cp, err := checkpoint.NewFileStore(cpPath).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cp.FailedIDs)
	assert.True(t, cp.ProcessedIDs.Has("PMC123"))
}

func TestStatusWithoutCheckpoint(t *testing.T) {
	_, err := execute(t, "status", "--checkpoint", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint found")
}

func TestIndexRebuildAndQuery(t *testing.T) {
	ts := newEutils(t)
	dir := t.TempDir()
	docsDir := filepath.Join(dir, "docs")
	_, err := execute(t, "collect", "PMC123", "PMC555", "--base-url", ts.URL, "--rate", "1000",
		"--checkpoint", filepath.Join(dir, "cp.json"), "--documents-dir", docsDir)
	require.NoError(t, err)

	ixPath := filepath.Join(dir, "index.db")
	out, err := execute(t, "index", "--rebuild", "--index", ixPath, "--documents-dir", docsDir)
	if err != nil && strings.Contains(err.Error(), "no such module: fts5") {
		t.Skip("sqlite3 built without FTS5; run with -tags sqlite_fts5")
	}
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 documents")

	out, err = execute(t, "index", "senescent", "--index", ixPath, "--doc", "PMC555", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"document_id": "PMC555"`)
	assert.Contains(t, out, `"section": "Introduction"`)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pmc-harvest dev\n", out)
}
