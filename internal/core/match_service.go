package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"gwi.com/venture-assistant/internal/store"
	"gwi.com/venture-assistant/internal/utils"
)

const (
	DefaultMatchLimit   = 5
	SimilarityThreshold = 0.6 // Minimum similarity score to consider an investor relevant
)

type InvestorSource interface {
	GetAllInvestors(ctx context.Context) ([]store.Investor, error)
}

// MatchService ranks ingested investors against a startup profile. With an
// embedder it uses cosine similarity; without one it scores keyword overlap
// with the investor's sectors and description.
type MatchService struct {
	source   InvestorSource
	embedder Embedder
	limit    int

	mu        sync.RWMutex
	investors []store.Investor // In-memory cache of investors and their embeddings
}

func NewMatchService(ctx context.Context, source InvestorSource, embedder Embedder, limit int) (*MatchService, error) {
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	s := &MatchService{source: source, embedder: embedder, limit: limit}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload refreshes the in-memory investor cache from the source.
func (s *MatchService) Reload(ctx context.Context) error {
	investors, err := s.source.GetAllInvestors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load investors for matching: %w", err)
	}
	if len(investors) == 0 {
		slog.Warn("match service has no investors; run the server with -ingest first")
	}
	s.mu.Lock()
	s.investors = investors
	s.mu.Unlock()
	return nil
}

func (s *MatchService) Match(ctx context.Context, profile string) ([]store.Investor, error) {
	s.mu.RLock()
	investors := s.investors
	s.mu.RUnlock()
	if len(investors) == 0 {
		return nil, nil
	}

	var (
		scored    []utils.Scored[store.Investor]
		threshold float32
	)
	if s.embedder != nil {
		query, err := s.embedder.Embed(ctx, profile)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile embedding: %w", err)
		}
		for _, inv := range investors {
			if len(inv.Embedding) == 0 {
				continue
			}
			sim, err := utils.CosineSimilarity(query, inv.Embedding)
			if err != nil {
				slog.Warn("skipping investor", "name", inv.Name, "error", err)
				continue
			}
			scored = append(scored, utils.Scored[store.Investor]{Item: inv, Score: sim})
		}
		threshold = SimilarityThreshold
	}
	if len(scored) == 0 {
		words := keywords(profile)
		for _, inv := range investors {
			scored = append(scored, utils.Scored[store.Investor]{Item: inv, Score: keywordScore(words, inv)})
		}
		threshold = 1
	}

	top := utils.TopK(scored, s.limit, threshold)
	out := make([]store.Investor, 0, len(top))
	for _, t := range top {
		out = append(out, t.Item)
	}
	slog.Debug("matched investors", "candidates", len(investors), "matches", len(out))
	return out, nil
}

func keywords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 {
			words[w] = true
		}
	}
	return words
}

// keywordScore counts sector hits double and description hits once.
func keywordScore(words map[string]bool, inv store.Investor) float32 {
	var score float32
	for _, sector := range inv.Sectors {
		for w := range keywords(sector) {
			if words[w] {
				score += 2
			}
		}
	}
	for w := range keywords(inv.Description) {
		if words[w] {
			score++
		}
	}
	return score
}
