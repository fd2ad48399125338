// Package index implements the Search Index Service (C1): the
// Elasticsearch-backed inverted index that crawlers write through and the
// API layer reads from. Grounded on the teacher's Storage type for basic
// go-elasticsearch/v8 client usage, generalized from single-document
// indexing calls into the full upsert/delete/commit/search/facets/stats/
// reset surface the spec requires, and wrapped in the teacher's circuit
// breaker and retry policy instead of calling the client unprotected.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/codegrove/codesearch/internal/circuitbreaker"
	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/index/querylang"
	"github.com/codegrove/codesearch/internal/models"
)

// Config configures the Service's Elasticsearch connection.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string
}

// Service is the Search Index Service.
type Service struct {
	client *elasticsearch.Client
	index  string
	cb     *circuitbreaker.CircuitBreaker
	retry  *errs.RetryPolicy

	mu      sync.Mutex
	pending []bulkOp
}

type bulkOp struct {
	action string // "index" or "delete"
	id     string
	doc    models.Document
}

// New constructs a Service backed by the given Elasticsearch cluster.
func New(cfg Config) (*Service, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Service{
		client: client,
		index:  cfg.IndexName,
		cb: circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		retry: &errs.RetryPolicy{
			MaxAttempts:    4,
			InitialDelay:   10 * time.Second,
			MaxDelay:       10 * time.Second,
			Multiplier:     1,
			Jitter:         true,
			RetryableTypes: []errs.Type{errs.TypeTransient, errs.TypeNetwork, errs.TypeRateLimit},
		},
	}, nil
}

// Upsert buffers doc for the next Commit. Per §4.1, upsert is idempotent
// by document id and batched internally.
func (s *Service) Upsert(ctx context.Context, doc models.Document) error {
	s.mu.Lock()
	s.pending = append(s.pending, bulkOp{action: "index", id: doc.ID, doc: doc})
	s.mu.Unlock()
	return nil
}

// Delete buffers a logical delete of id for the next Commit.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.pending = append(s.pending, bulkOp{action: "delete", id: id})
	s.mu.Unlock()
	return nil
}

// DeleteByRepository deletes every document for repoID, optionally
// scoped to branch, immediately (not buffered — this is an
// administrative bulk operation, not part of the per-file write path).
func (s *Service) DeleteByRepository(ctx context.Context, repoID string, branch string) error {
	must := []map[string]interface{}{
		{"term": map[string]interface{}{"repository": repoID}},
	}
	if branch != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"branch": branch}})
	}

	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"bool": map[string]interface{}{"must": must}},
	})
	if err != nil {
		return fmt.Errorf("encode delete_by_query body: %w", err)
	}

	return s.withRetry(ctx, func() error {
		req := esapi.DeleteByQueryRequest{
			Index: []string{s.index},
			Body:  bytes.NewReader(body),
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("delete_by_query", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("delete_by_query failed: "+res.String(), nil)
		}
		return nil
	})
}

// Commit flushes buffered upserts/deletes as a single bulk request. Per
// §4.1 failure semantics, individual item failures inside the bulk are
// recorded and returned as an errs.PartialFailure whose FailedIDs lists
// them, rather than aborting the batch; backend-unavailable errors are
// retried up to 3 times with a fixed ~10s backoff before the crawl is
// told to fail.
func (s *Service) Commit(ctx context.Context) error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, op := range ops {
		meta := map[string]interface{}{
			op.action: map[string]interface{}{
				"_index": s.index,
				"_id":    op.id,
			},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return errs.New(errs.TypeSystem, "encode bulk meta: "+err.Error())
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if op.action == "index" {
			docLine, err := json.Marshal(op.doc)
			if err != nil {
				return errs.New(errs.TypeSystem, "encode bulk doc: "+err.Error())
			}
			buf.Write(docLine)
			buf.WriteByte('\n')
		}
	}

	return s.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		return s.retry.Run(ctx, func() error {
			req := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}
			res, err := req.Do(ctx, s.client)
			if err != nil {
				return errs.NewNetwork("bulk commit", err)
			}
			defer res.Body.Close()
			if res.IsError() {
				return errs.NewDatabase("bulk commit failed: "+res.String(), nil)
			}
			return checkBulkResponse(res)
		})
	})
}

// bulkResponseError reports that some items of a bulk request failed
// while the HTTP call itself succeeded. It implements errs.PartialFailure
// so callers can count the failed ids and keep going instead of aborting
// the batch.
type bulkResponseError struct {
	failedIDs []string
	Reason    string
}

func (e *bulkResponseError) Error() string {
	return fmt.Sprintf("%d bulk items failed: %s", len(e.failedIDs), e.Reason)
}

// FailedIDs implements errs.PartialFailure.
func (e *bulkResponseError) FailedIDs() []string { return e.failedIDs }

func checkBulkResponse(res *esapi.Response) error {
	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return errs.NewDatabase("decode bulk response", err)
	}
	if !parsed.Errors {
		return nil
	}

	var failed []string
	var reason string
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error != nil {
				failed = append(failed, result.ID)
				reason = classifyBulkFailure(result.Error.Type)
			}
		}
	}
	return &bulkResponseError{failedIDs: failed, Reason: reason}
}

func classifyBulkFailure(esErrType string) string {
	switch {
	case strings.Contains(esErrType, "mapper") || strings.Contains(esErrType, "parse"):
		return "decode"
	case strings.Contains(esErrType, "circuit_breaking") || strings.Contains(esErrType, "too_large"):
		return "size"
	default:
		return "backend"
	}
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	return s.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		return s.retry.Run(ctx, fn)
	})
}

// Reset deletes the entire index and recreates it empty. Admin-only.
func (s *Service) Reset(ctx context.Context) (docsBefore int64, err error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	docsBefore = stats.TotalDocuments

	return docsBefore, s.withRetry(ctx, func() error {
		del := esapi.IndicesDeleteRequest{Index: []string{s.index}}
		res, err := del.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("delete index", err)
		}
		res.Body.Close()

		create := esapi.IndicesCreateRequest{Index: s.index}
		res, err = create.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("create index", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("create index failed: "+res.String(), nil)
		}
		return nil
	})
}

// Stats reports the index's document counts and on-disk size.
type Stats struct {
	TotalDocuments   int64
	PerRepository    map[string]int64
	IndexSizeBytes   int64
}

// Stats implements §4.1's stats() operation.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var result Stats
	err := s.withRetry(ctx, func() error {
		req := esapi.IndicesStatsRequest{Index: []string{s.index}}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("indices stats", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("indices stats failed: "+res.String(), nil)
		}

		var parsed struct {
			Indices map[string]struct {
				Total struct {
					Docs  struct{ Count int64 `json:"count"` } `json:"docs"`
					Store struct{ SizeInBytes int64 `json:"size_in_bytes"` } `json:"store"`
				} `json:"total"`
			} `json:"indices"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return errs.NewDatabase("decode stats response", err)
		}
		if idx, ok := parsed.Indices[s.index]; ok {
			result.TotalDocuments = idx.Total.Docs.Count
			result.IndexSizeBytes = idx.Total.Store.SizeInBytes
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	result.PerRepository, err = s.perRepositoryCounts(ctx)
	return result, err
}

func (s *Service) perRepositoryCounts(ctx context.Context) (map[string]int64, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"by_repo": map[string]interface{}{
				"terms": map[string]interface{}{"field": "repository", "size": 500},
			},
		},
	})

	counts := make(map[string]int64)
	err := s.withRetry(ctx, func() error {
		req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("per-repository aggregation", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("aggregation failed: "+res.String(), nil)
		}

		var parsed struct {
			Aggregations struct {
				ByRepo struct {
					Buckets []struct {
						Key      string `json:"key"`
						DocCount int64  `json:"doc_count"`
					} `json:"buckets"`
				} `json:"by_repo"`
			} `json:"aggregations"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return errs.NewDatabase("decode aggregation response", err)
		}
		for _, b := range parsed.Aggregations.ByRepo.Buckets {
			counts[b.Key] = b.DocCount
		}
		return nil
	})
	return counts, err
}

// Filter is a conjunction clause: field must match one of Values.
type Filter struct {
	Field  string
	Values []string
}

// SortKey enumerates the sort fields §4.1 supports.
type SortKey string

const (
	SortRelevance   SortKey = "relevance"
	SortSize        SortKey = "size"
	SortLastMod     SortKey = "last_modified"
	SortName        SortKey = "name"
	SortPath        SortKey = "path"
)

// SearchRequest carries the parameters of §4.1's search() operation.
type SearchRequest struct {
	QueryText string
	Filters   []Filter
	Page      int
	Size      int
	Sort      SortKey
	Markers   Markers
}

// Hit is one ranked search result.
type Hit struct {
	Document models.Document
	Score    float64
	Snippet  string
}

// SearchResult is the page of hits plus the total matched count.
type SearchResult struct {
	Hits  []Hit
	Total int64
}

// Search implements §4.1's search() operation: ranked hits with
// highlighted content/path snippets, stable paging via a document-id
// tiebreak.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if req.Size <= 0 {
		req.Size = 20
	}
	if req.Page < 0 {
		req.Page = 0
	}

	clauses := querylang.Parse(req.QueryText)
	esQuery := buildQuery(clauses, req.Filters)
	body, err := json.Marshal(map[string]interface{}{
		"query": esQuery,
		"from":  req.Page * req.Size,
		"size":  req.Size,
		"sort":  buildSort(req.Sort),
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{},
				"path":    map[string]interface{}{},
			},
			"pre_tags":  []string{markersOrDefault(req.Markers).Pre},
			"post_tags": []string{markersOrDefault(req.Markers).Post},
		},
	})
	if err != nil {
		return SearchResult{}, errs.New(errs.TypeSystem, "encode search body: "+err.Error())
	}

	var result SearchResult
	err = s.withRetry(ctx, func() error {
		r := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
		res, err := r.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("search", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("search failed: "+res.String(), nil)
		}

		var parsed esSearchResponse
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return errs.NewDatabase("decode search response", err)
		}

		matchedTerms := termValues(clauses)
		hits := make([]Hit, 0, len(parsed.Hits.Hits))
		for _, h := range parsed.Hits.Hits {
			snippet := Snippet(h.Source.Content, matchedTerms, markersOrDefault(req.Markers))
			if len(h.Highlight["content"]) > 0 {
				snippet = strings.Join(h.Highlight["content"], " … ")
			}
			hits = append(hits, Hit{Document: h.Source, Score: h.Score, Snippet: snippet})
		}

		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].Document.ID < hits[j].Document.ID
		})

		result = SearchResult{Hits: hits, Total: parsed.Hits.Total.Value}
		return nil
	})
	return result, err
}

func markersOrDefault(m Markers) Markers {
	if m.Pre == "" && m.Post == "" {
		return DefaultMarkers
	}
	return m
}

func termValues(clauses []querylang.Clause) []string {
	var terms []string
	for _, c := range clauses {
		if !c.Exclude {
			terms = append(terms, c.Value)
		}
	}
	return terms
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score     float64             `json:"_score"`
			Source    models.Document     `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildQuery(clauses []querylang.Clause, filters []Filter) map[string]interface{} {
	must := []map[string]interface{}{}
	mustNot := []map[string]interface{}{}

	for _, c := range clauses {
		var clause map[string]interface{}
		if c.Kind == querylang.KindPhrase {
			clause = map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  c.Value,
					"type":   "phrase",
					"fields": c.Fields(),
				},
			}
		} else {
			clause = map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  c.Value,
					"fields": c.Fields(),
				},
			}
		}
		if c.Exclude {
			mustNot = append(mustNot, clause)
		} else {
			must = append(must, clause)
		}
	}

	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	filterClauses := buildFilterClauses(filters)

	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must":     must,
			"must_not": mustNot,
			"filter":   filterClauses,
		},
	}
}

// buildFilterClauses converts a conjunction-of-disjunctions filter list
// (field ∈ {values}) into Elasticsearch terms filters.
func buildFilterClauses(filters []Filter) []map[string]interface{} {
	clauses := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		if len(f.Values) == 0 {
			continue
		}
		values := make([]interface{}, len(f.Values))
		for i, v := range f.Values {
			values[i] = v
		}
		clauses = append(clauses, map[string]interface{}{
			"terms": map[string]interface{}{f.Field: values},
		})
	}
	return clauses
}

func buildSort(key SortKey) []map[string]interface{} {
	switch key {
	case SortSize:
		return []map[string]interface{}{{"size": "desc"}, {"_id": "asc"}}
	case SortLastMod:
		return []map[string]interface{}{{"last_modified": "desc"}, {"_id": "asc"}}
	case SortName:
		return []map[string]interface{}{{"name.keyword": "asc"}, {"_id": "asc"}}
	case SortPath:
		return []map[string]interface{}{{"path.keyword": "asc"}, {"_id": "asc"}}
	default:
		return []map[string]interface{}{{"_score": "desc"}, {"_id": "asc"}}
	}
}

// FacetCount is a single facet value and its count within the filtered
// result set.
type FacetCount struct {
	Value string
	Count int64
}

// Facets implements §4.1's facets() operation: for each requested field,
// the top-K values ordered by count desc then value asc.
func (s *Service) Facets(ctx context.Context, queryText string, filters []Filter, fields []string) (map[string][]FacetCount, error) {
	clauses := querylang.Parse(queryText)
	esQuery := buildQuery(clauses, filters)

	aggs := map[string]interface{}{}
	for _, field := range fields {
		aggs[field] = map[string]interface{}{
			"terms": map[string]interface{}{
				"field": field,
				"size":  50,
				"order": map[string]interface{}{"_count": "desc"},
			},
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"size":  0,
		"query": esQuery,
		"aggs":  aggs,
	})
	if err != nil {
		return nil, errs.New(errs.TypeSystem, "encode facets body: "+err.Error())
	}

	result := make(map[string][]FacetCount)
	err = s.withRetry(ctx, func() error {
		r := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
		res, err := r.Do(ctx, s.client)
		if err != nil {
			return errs.NewNetwork("facets", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errs.NewDatabase("facets failed: "+res.String(), nil)
		}

		var parsed struct {
			Aggregations map[string]struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"aggregations"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return errs.NewDatabase("decode facets response", err)
		}

		for _, field := range fields {
			agg, ok := parsed.Aggregations[field]
			if !ok {
				continue
			}
			counts := make([]FacetCount, 0, len(agg.Buckets))
			for _, b := range agg.Buckets {
				counts = append(counts, FacetCount{Value: b.Key, Count: b.DocCount})
			}
			sort.SliceStable(counts, func(i, j int) bool {
				if counts[i].Count != counts[j].Count {
					return counts[i].Count > counts[j].Count
				}
				return counts[i].Value < counts[j].Value
			})
			result[field] = counts
		}
		return nil
	})
	return result, err
}
