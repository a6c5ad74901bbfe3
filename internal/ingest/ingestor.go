package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/store"
)

// Blob is an uploaded file held in memory.
type Blob struct {
	Name string
	Data []byte
}

// Warning reports one file or URL that produced no chunks.
type Warning struct {
	Item    string `json:"item"`
	Message string `json:"message"`
}

type Result struct {
	Documents int           `json:"documents"`
	Chunks    []store.Chunk `json:"-"`
	Warnings  []Warning     `json:"warnings,omitempty"`
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

type Option func(*Ingestor)

// WithExtractor registers (or replaces) the extractor for a file extension.
func WithExtractor(ext string, fn Extractor) Option {
	return func(in *Ingestor) {
		in.extractors[strings.ToLower(ext)] = fn
	}
}

func WithFetcher(f Fetcher) Option {
	return func(in *Ingestor) { in.fetcher = f }
}

// WithTempDir sets where uploads are materialized before parsing.
func WithTempDir(dir string) Option {
	return func(in *Ingestor) { in.tempDir = dir }
}

type Ingestor struct {
	splitter   *RecursiveSplitter
	extractors map[string]Extractor
	fetcher    Fetcher
	tempDir    string
	log        logrus.FieldLogger
}

func NewIngestor(splitter *RecursiveSplitter, log logrus.FieldLogger, opts ...Option) *Ingestor {
	in := &Ingestor{
		splitter:   splitter,
		extractors: defaultExtractors(),
		fetcher:    NewArticleFetcher(0),
		log:        log,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Supported reports whether a filename has an extension the ingestor can parse.
func (in *Ingestor) Supported(name string) bool {
	_, ok := in.extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Ingest extracts and chunks every file and URL. A failing item is recorded
// as a warning and the batch continues; only context cancellation aborts it.
// The returned chunks carry no owner yet.
func (in *Ingestor) Ingest(ctx context.Context, files []Blob, urls []string) (Result, error) {
	var res Result

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		docs, err := in.ingestFile(f)
		if err != nil {
			in.log.WithError(err).WithField("file", f.Name).Warn("Skipping file")
			res.Warnings = append(res.Warnings, Warning{Item: f.Name, Message: err.Error()})
			continue
		}
		in.collect(&res, f.Name, docs)
	}

	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		doc, err := in.fetcher.Fetch(ctx, url)
		if err != nil {
			in.log.WithError(err).WithField("url", url).Warn("Skipping article")
			res.Warnings = append(res.Warnings, Warning{Item: url, Message: err.Error()})
			continue
		}
		in.collect(&res, url, []Document{doc})
	}

	in.log.WithFields(logrus.Fields{
		"documents": res.Documents,
		"chunks":    len(res.Chunks),
		"warnings":  len(res.Warnings),
	}).Info("Ingestion finished")
	return res, nil
}

func (in *Ingestor) ingestFile(f Blob) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	extract, ok := in.extractors[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	tmp, err := os.CreateTemp(in.tempDir, "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(f.Data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	docs, err := extract(tmp.Name())
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["source"] = f.Name
	}
	return docs, nil
}

func (in *Ingestor) collect(res *Result, item string, docs []Document) {
	before := len(res.Chunks)
	for _, doc := range docs {
		texts, err := in.splitter.Split(doc.Content)
		if err != nil {
			in.log.WithError(err).WithField("item", item).Warn("Skipping document")
			continue
		}
		for i, text := range texts {
			md := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				md[k] = v
			}
			md["chunk_index"] = i
			res.Chunks = append(res.Chunks, store.Chunk{Content: text, Metadata: md})
		}
	}
	if len(res.Chunks) == before {
		res.Warnings = append(res.Warnings, Warning{Item: item, Message: "no text could be extracted"})
		return
	}
	res.Documents++
}
