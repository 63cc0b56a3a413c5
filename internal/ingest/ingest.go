// Package ingest fills bot knowledge bases from item batches and crawler
// result feeds, and refreshes the bots that ask for periodic re-ingestion.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/models"
	"github.com/xaenox/kb-bot/internal/storage"
	"github.com/xaenox/kb-bot/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	CrawlerTag = "crawler"

	defaultConcurrency = 4
	maxCrawlerPages    = 1000
)

// KnowledgeBase is the part of the vector store ingestion writes to.
type KnowledgeBase interface {
	BatchStoreEmbeddings(ctx context.Context, botID string, items []models.EmbeddingItem, tag string) (vectorstore.CountResult, error)
	DeleteByBotID(ctx context.Context, botID string) (vectorstore.CountResult, error)
	DeleteByBotIDAndMetadataSource(ctx context.Context, botID, source string) (vectorstore.CountResult, error)
	DeleteByBotIDAndTag(ctx context.Context, botID, tag string) (vectorstore.CountResult, error)
}

type Ingester struct {
	bots        storage.BotStore
	kb          KnowledgeBase
	extractor   PageExtractor
	httpClient  *http.Client
	concurrency int
	logger      *zap.Logger
}

func NewIngester(bots storage.BotStore, kb KnowledgeBase, extractor PageExtractor, httpClient *http.Client, concurrency int, logger *zap.Logger) *Ingester {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Ingester{
		bots:        bots,
		kb:          kb,
		extractor:   extractor,
		httpClient:  httpClient,
		concurrency: concurrency,
		logger:      logger,
	}
}

// RenderPrompt fills the {{titles}} and {{count}} placeholders of a prompt template.
func RenderPrompt(template string, titles []string, count int) string {
	return strings.NewReplacer(
		"{{titles}}", strings.Join(titles, ", "),
		"{{count}}", strconv.Itoa(count),
	).Replace(template)
}

// PopulateFromItems stores a prepared batch and rewrites the bot prompt from
// its template, when the bot has one.
func (i *Ingester) PopulateFromItems(ctx context.Context, botID string, items []models.EmbeddingItem, tag string, titles []string) (vectorstore.CountResult, error) {
	b, err := i.getBot(ctx, botID)
	if err != nil {
		return vectorstore.CountResult{}, err
	}

	res, err := i.kb.BatchStoreEmbeddings(ctx, botID, items, tag)
	if err != nil {
		return vectorstore.CountResult{}, err
	}

	i.logger.Info("Stored knowledge base items",
		zap.String("bot_id", botID),
		zap.String("tag", tag),
		zap.Int("count", res.Count))

	if err := i.updatePrompt(ctx, b, titles, res.Count); err != nil {
		return res, err
	}
	return res, nil
}

type crawlerResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

type crawlerPage struct {
	Data        []crawlerResult `json:"data"`
	NextPageURL string          `json:"next_page_url"`
}

// PopulateFromCrawler walks a paginated crawler result feed starting at
// startURL, extracts the readable content of every result and stores it under
// the "crawler" tag.
func (i *Ingester) PopulateFromCrawler(ctx context.Context, botID, startURL string) (vectorstore.CountResult, error) {
	b, err := i.getBot(ctx, botID)
	if err != nil {
		return vectorstore.CountResult{}, err
	}

	var (
		items  []models.EmbeddingItem
		titles []string
	)
	seen := make(map[string]bool)
	next := startURL
	for next != "" {
		if seen[next] || len(seen) >= maxCrawlerPages {
			i.logger.Warn("Stopping crawler pagination",
				zap.String("bot_id", botID),
				zap.String("url", next),
				zap.Int("pages", len(seen)))
			break
		}
		seen[next] = true

		i.logger.Info("Fetching crawler page", zap.String("bot_id", botID), zap.String("url", next))
		page, err := i.fetchPage(ctx, next)
		if err != nil {
			return vectorstore.CountResult{}, err
		}

		pageItems, err := i.extractPage(ctx, page.Data)
		if err != nil {
			return vectorstore.CountResult{}, err
		}
		items = append(items, pageItems...)
		for _, r := range page.Data {
			titles = append(titles, r.Title)
		}

		next, err = resolveNext(next, page.NextPageURL)
		if err != nil {
			return vectorstore.CountResult{}, err
		}
	}

	res, err := i.kb.BatchStoreEmbeddings(ctx, botID, items, CrawlerTag)
	if err != nil {
		return vectorstore.CountResult{}, err
	}

	i.logger.Info("Stored crawler results",
		zap.String("bot_id", botID),
		zap.String("start_url", startURL),
		zap.Int("pages", len(seen)),
		zap.Int("count", res.Count))

	if err := i.updatePrompt(ctx, b, titles, res.Count); err != nil {
		return res, err
	}
	return res, nil
}

// Refresh re-crawls the crawler links of every auto-update bot. Only records
// stored under CrawlerTag are replaced; ingested items are left alone.
// A failing link is logged and skipped.
func (i *Ingester) Refresh(ctx context.Context) error {
	bots, err := i.bots.ListAutoUpdateBots(ctx)
	if err != nil {
		return err
	}

	for n, b := range bots {
		i.logger.Info("Refreshing knowledge base",
			zap.String("bot_id", b.ID),
			zap.Int("position", n+1),
			zap.Int("total", len(bots)))

		deleted, err := i.kb.DeleteByBotIDAndTag(ctx, b.ID, CrawlerTag)
		if err != nil {
			return err
		}
		i.logger.Info("Deleted crawled records", zap.String("bot_id", b.ID), zap.Int("count", deleted.Count))

		links, err := i.bots.GetCrawlerLinks(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			if _, err := i.PopulateFromCrawler(ctx, b.ID, link); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				i.logger.Error("Failed to populate from crawler link",
					zap.Error(err),
					zap.String("bot_id", b.ID),
					zap.String("url", link))
			}
		}
	}
	return nil
}

// ClearSource deletes the records whose source contains source, or the whole
// knowledge base of the bot when source is empty.
func (i *Ingester) ClearSource(ctx context.Context, botID, source string) (vectorstore.CountResult, error) {
	if source == "" {
		return i.kb.DeleteByBotID(ctx, botID)
	}
	return i.kb.DeleteByBotIDAndMetadataSource(ctx, botID, source)
}

func (i *Ingester) getBot(ctx context.Context, botID string) (*models.Bot, error) {
	b, err := i.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrBotNotFound, botID)
	}
	return b, nil
}

func (i *Ingester) updatePrompt(ctx context.Context, b *models.Bot, titles []string, count int) error {
	if b.PromptTemplate == "" {
		return nil
	}
	prompt := RenderPrompt(b.PromptTemplate, titles, count)
	if _, err := i.bots.UpdateBot(ctx, b.ID, models.BotUpdate{Prompt: &prompt}); err != nil {
		return err
	}
	i.logger.Info("Updated bot prompt from template", zap.String("bot_id", b.ID))
	return nil
}

func (i *Ingester) fetchPage(ctx context.Context, pageURL string) (*crawlerPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build crawler request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch crawler page %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("failed to fetch crawler page %s: status %d", pageURL, resp.StatusCode)
	}

	var page crawlerPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode crawler page %s: %w", pageURL, err)
	}
	return &page, nil
}

// extractPage runs the extractor over one page of results, keeping their order.
func (i *Ingester) extractPage(ctx context.Context, results []crawlerResult) ([]models.EmbeddingItem, error) {
	items := make([]models.EmbeddingItem, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for n, r := range results {
		g.Go(func() error {
			content, err := i.extractor.Extract(gctx, r.Body)
			if err != nil {
				return err
			}
			items[n] = models.EmbeddingItem{
				Content:  r.Title + "\n" + content,
				Metadata: models.Metadata{"source": r.URL},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// resolveNext resolves a possibly relative next page link against the current page.
func resolveNext(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid crawler page url %q: %w", current, err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next page url %q: %w", next, err)
	}
	return base.ResolveReference(ref).String(), nil
}
