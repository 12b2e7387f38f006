package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/ledongthuc/pdf"
)

// SummaryPrefix marks files holding one-page policy summaries.
const SummaryPrefix = "summary_"

// IngestStats counts what an ingestion run stored.
type IngestStats struct {
	Files     int
	Chunks    int
	Summaries int
	Skipped   int
}

// Ingester loads policy files into the vector store.
type Ingester struct {
	store             VectorStore
	tokenizer         *genai.Tokenizer
	policyCollection  string
	summaryCollection string
	chunkTokens       int
	overlapTokens     int
}

// NewIngester creates an ingester that splits policy wordings into chunks of
// chunkTokens tokens overlapping by overlapTokens.
func NewIngester(store VectorStore, tokenizer *genai.Tokenizer, policyCollection, summaryCollection string, chunkTokens, overlapTokens int) *Ingester {
	return &Ingester{
		store:             store,
		tokenizer:         tokenizer,
		policyCollection:  policyCollection,
		summaryCollection: summaryCollection,
		chunkTokens:       chunkTokens,
		overlapTokens:     overlapTokens,
	}
}

// IngestDir ingests every .pdf, .txt and .md file directly inside dir.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (IngestStats, error) {
	var stats IngestStats
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stats, fmt.Errorf("read ingest directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !supportedFile(entry.Name()) {
			stats.Skipped++
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, summary, err := in.IngestFile(ctx, path)
		if err != nil {
			return stats, fmt.Errorf("ingest %s: %w", entry.Name(), err)
		}
		stats.Files++
		if summary {
			stats.Summaries += n
		} else {
			stats.Chunks += n
		}
	}
	slog.Info("Ingester.IngestDir: ingestion finished", "dir", dir, "files", stats.Files,
		"chunks", stats.Chunks, "summaries", stats.Summaries, "skipped", stats.Skipped)
	return stats, nil
}

// IngestFile stores one file and returns the number of documents written and
// whether the file was a summary.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, bool, error) {
	text, err := ReadDocumentText(path)
	if err != nil {
		return 0, false, err
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("Ingester.IngestFile: no text extracted", "path", path)
		return 0, false, nil
	}

	policy, summary := PolicyNameFromFile(path)
	source := filepath.Base(path)
	if summary {
		doc := Document{
			ID:       policy,
			Content:  strings.TrimSpace(text),
			Metadata: map[string]string{MetaPolicyName: policy, MetaSource: source},
		}
		if err := in.store.AddDocuments(ctx, in.summaryCollection, []Document{doc}); err != nil {
			return 0, true, err
		}
		ingestedDocuments.WithLabelValues(in.summaryCollection).Inc()
		return 1, true, nil
	}

	chunks := in.tokenizer.Split(text, in.chunkTokens, in.overlapTokens)
	docs := make([]Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, Document{
			ID:      policy + "-" + strconv.Itoa(i),
			Content: chunk,
			Metadata: map[string]string{
				MetaPolicyName: policy,
				MetaSource:     source,
				MetaChunk:      strconv.Itoa(i),
			},
		})
	}
	if err := in.store.AddDocuments(ctx, in.policyCollection, docs); err != nil {
		return 0, false, err
	}
	ingestedDocuments.WithLabelValues(in.policyCollection).Add(float64(len(docs)))
	slog.Debug("Ingester.IngestFile: policy stored", "policy", policy, "chunks", len(docs))
	return len(docs), false, nil
}

// PolicyNameFromFile derives the policy name from a file name. Files named
// with SummaryPrefix hold summaries.
func PolicyNameFromFile(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.HasPrefix(name, SummaryPrefix) {
		return strings.TrimPrefix(name, SummaryPrefix), true
	}
	return name, false
}

// ReadDocumentText returns the plain text of a PDF, text or markdown file.
func ReadDocumentText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	b, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func supportedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	default:
		return false
	}
}
