package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragcore/ingest"
)

var (
	ingestMaxChars int
	ingestOverlap  int

	ingestCmd = &cobra.Command{
		Use:   "ingest [file or directory...]",
		Short: "Extract, chunk, and index files into the knowledge store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
)

func init() {
	ingestCmd.Flags().IntVar(&ingestMaxChars, "max-chars", 2000, "maximum chunk size in bytes")
	ingestCmd.Flags().IntVar(&ingestOverlap, "overlap", 200, "bytes of overlap between consecutive chunks")
}

var ingestExts = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".html": true, ".htm": true, ".pdf": true}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ing := ingest.NewIngestor(store, ingest.WithChunker(ingest.NewRecursiveChunker(
		ingest.WithMaxChars(ingestMaxChars),
		ingest.WithOverlapChars(ingestOverlap),
	)))
	return ingestPaths(ctx, cmd.OutOrStdout(), ing, args)
}

// ingestPaths ingests every file named in paths, descending into
// directories for files with a known extension. A failing file is reported
// and skipped.
func ingestPaths(ctx context.Context, w io.Writer, ing *ingest.Ingestor, paths []string) error {
	var files []string
	for _, p := range paths {
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if path == p || ingestExts[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	var failed int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := ing.IngestFile(ctx, f)
		if err != nil {
			failed++
			logger.Warn("ingest failed", "path", f, "error", err)
			fmt.Fprintf(w, "FAIL %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s  id=%s chunks=%d title=%q\n", f, res.Document.ID, res.ChunkCount, res.Document.Title)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
