package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/avezina/docent/internal/model"
)

// QdrantEngine searches the visual-pages and text-chunks collections and
// merges the hits per mode. Visual hits carry no chunk_id in their payload;
// that absence is what marks them visual downstream.
type QdrantEngine struct {
	client   *qdrant.Client
	embedder Embedder
	config   model.SearchConfig
	logger   *zap.Logger
}

// NewQdrantEngine connects to Qdrant and verifies it is reachable, retrying
// with exponential backoff before giving up.
func NewQdrantEngine(cfg model.SearchConfig, embedder Embedder, logger *zap.Logger) (*QdrantEngine, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	engine := &QdrantEngine{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	if err := engine.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant unreachable: %w", err)
	}

	return engine, nil
}

func (e *QdrantEngine) healthCheckWithRetry(ctx context.Context) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := e.client.HealthCheck(ctx)
		return err
	}, expo)
}

// Close closes the underlying client connection.
func (e *QdrantEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Search embeds the query once and fans out to the collections the mode
// selects. Hybrid results are merged and re-sorted by score descending.
func (e *QdrantEngine) Search(ctx context.Context, query string, nResults int, mode Mode) (*Response, error) {
	start := time.Now()

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []Result
	if mode == ModeHybrid || mode == ModeVisualOnly {
		visual, err := e.queryCollection(ctx, e.config.VisualCollection, vector, nResults, true)
		if err != nil {
			return nil, err
		}
		results = append(results, visual...)
	}
	if mode == ModeHybrid || mode == ModeTextOnly {
		text, err := e.queryCollection(ctx, e.config.TextCollection, vector, nResults, false)
		if err != nil {
			return nil, err
		}
		results = append(results, text...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > nResults {
		results = results[:nResults]
	}

	e.logger.Debug("search complete",
		zap.String("mode", string(mode)),
		zap.Int("hits", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Results:     results,
		TotalTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// queryCollection runs one vector query, retrying transient failures.
func (e *QdrantEngine) queryCollection(ctx context.Context, collection string, vector []float32, limit int, visual bool) ([]Result, error) {
	var points []*qdrant.ScoredPoint

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 10 * time.Second

	err := backoff.Retry(func() error {
		var qErr error
		points, qErr = e.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return qErr
	}, backoff.WithContext(expo, ctx))
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload := p.Payload

		r := Result{
			DocID:    payload["doc_id"].GetStringValue(),
			Page:     int(payload["page"].GetIntegerValue()),
			Score:    float64(p.Score),
			Metadata: map[string]any{},
		}
		if r.DocID == "" {
			e.logger.Warn("search hit missing doc_id payload, skipping",
				zap.String("collection", collection))
			continue
		}
		if r.Page == 0 {
			r.Page = 1
		}

		// Only text hits carry chunk_id; its absence is the visual signal.
		if !visual {
			if v, ok := payload["chunk_id"]; ok {
				r.Metadata["chunk_id"] = int(v.GetIntegerValue())
			}
		}
		for _, key := range []string{"filename", "extension", "section_path", "parent_heading"} {
			if v, ok := payload[key]; ok {
				r.Metadata[key] = v.GetStringValue()
			}
		}

		results = append(results, r)
	}

	return results, nil
}
