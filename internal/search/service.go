package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type primary interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    primary
	fallback *PgFTS
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	var p primary
	if meili != nil {
		p = meili
	}
	return newService(p, pgfts, logger)
}

func newService(p primary, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: p, fallback: pgfts, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "pgfts"}
}

// IndexArticle indexes an article (fire-and-forget to Meilisearch).
func (s *Service) IndexArticle(record ArticleRecord) {
	s.async("index article "+record.ID, func(m primary) error {
		return m.IndexArticles([]ArticleRecord{record})
	})
}

// DeleteArticle removes an article from the index (fire-and-forget).
func (s *Service) DeleteArticle(id string) {
	s.async("delete article "+id, func(m primary) error {
		return m.DeleteArticle(id)
	})
}

// IndexComplaint indexes a complaint (fire-and-forget to Meilisearch).
func (s *Service) IndexComplaint(record ComplaintRecord) {
	s.async("index complaint "+record.ID, func(m primary) error {
		return m.IndexComplaints([]ComplaintRecord{record})
	})
}

// IndexApplication indexes a job application (fire-and-forget).
func (s *Service) IndexApplication(record ApplicationRecord) {
	s.async("index application "+record.ID, func(m primary) error {
		return m.IndexApplications([]ApplicationRecord{record})
	})
}

// DeleteApplication removes a job application from the index (fire-and-forget).
func (s *Service) DeleteApplication(id string) {
	s.async("delete application "+id, func(m primary) error {
		return m.DeleteApplication(id)
	})
}

// IndexUser indexes a staff account (fire-and-forget).
func (s *Service) IndexUser(record UserRecord) {
	s.async("index user "+record.ID, func(m primary) error {
		return m.IndexUsers([]UserRecord{record})
	})
}

// ReindexAllFromPG pushes every searchable row from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return nil
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	return s.push(records)
}

func (s *Service) push(records Records) error {
	if err := s.meili.IndexArticles(records.Articles); err != nil {
		return err
	}
	if err := s.meili.IndexComplaints(records.Complaints); err != nil {
		return err
	}
	if err := s.meili.IndexApplications(records.Applications); err != nil {
		return err
	}
	if err := s.meili.IndexUsers(records.Users); err != nil {
		return err
	}
	s.logger.Info("search reindexed",
		zap.Int("articles", len(records.Articles)),
		zap.Int("complaints", len(records.Complaints)),
		zap.Int("applications", len(records.Applications)),
		zap.Int("users", len(records.Users)),
	)
	return nil
}

// Wait blocks until in-flight index updates finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) async(what string, fn func(primary) error) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(s.meili); err != nil {
			s.logger.Warn("search update failed", zap.String("op", what), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
