package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// insertBatchSize keeps a multi-row INSERT under the postgres bind parameter limit.
const insertBatchSize = 1000

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("PostgreSQL storage ready",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

const botColumns = `id, name, description, model, prompt, prompt_template, settings, widget_settings, tools, auto_update_kb, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*models.Bot, error) {
	bot := &models.Bot{}
	err := row.Scan(
		&bot.ID,
		&bot.Name,
		&bot.Description,
		&bot.Model,
		&bot.Prompt,
		&bot.PromptTemplate,
		&bot.Settings,
		&bot.WidgetSettings,
		&bot.Tools,
		&bot.AutoUpdateKB,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)
	return bot, err
}

func (s *PostgresStorage) CreateBot(ctx context.Context, bot *models.Bot) error {
	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO bots (id, name, description, model, prompt, prompt_template, settings, widget_settings, tools, auto_update_kb)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		bot.ID,
		bot.Name,
		bot.Description,
		bot.Model,
		bot.Prompt,
		bot.PromptTemplate,
		bot.Settings,
		bot.WidgetSettings,
		bot.Tools,
		bot.AutoUpdateKB,
	).Scan(&bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return errs.StoreError("PostgresStorage.CreateBot", "Failed to create bot", err)
	}

	return nil
}

func (s *PostgresStorage) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreError("PostgresStorage.GetBot", "Failed to fetch bot", err)
	}
	return bot, nil
}

func (s *PostgresStorage) ListBots(ctx context.Context) ([]*models.Bot, error) {
	return s.queryBots(ctx, "PostgresStorage.ListBots",
		`SELECT `+botColumns+` FROM bots ORDER BY created_at DESC`)
}

func (s *PostgresStorage) ListAutoUpdateBots(ctx context.Context) ([]*models.Bot, error) {
	return s.queryBots(ctx, "PostgresStorage.ListAutoUpdateBots",
		`SELECT `+botColumns+` FROM bots WHERE auto_update_kb = TRUE ORDER BY created_at DESC`)
}

func (s *PostgresStorage) queryBots(ctx context.Context, op, query string, args ...any) ([]*models.Bot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to fetch bots", err)
	}
	defer rows.Close()

	bots := []*models.Bot{}
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, errs.StoreError(op, "Failed to fetch bots", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreError(op, "Failed to fetch bots", err)
	}
	return bots, nil
}

func (s *PostgresStorage) UpdateBot(ctx context.Context, id string, update models.BotUpdate) (*models.Bot, error) {
	const op = "PostgresStorage.UpdateBot"

	bot, err := s.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, errs.StoreError(op, "Failed to update bot", errs.ErrBotNotFound)
	}
	update.Apply(bot)

	query := `
		UPDATE bots
		SET name = $1, description = $2, model = $3, prompt = $4, prompt_template = $5,
			settings = $6, widget_settings = $7, tools = $8, auto_update_kb = $9, updated_at = $10
		WHERE id = $11
		RETURNING updated_at`

	err = s.db.QueryRowContext(ctx, query,
		bot.Name,
		bot.Description,
		bot.Model,
		bot.Prompt,
		bot.PromptTemplate,
		bot.Settings,
		bot.WidgetSettings,
		bot.Tools,
		bot.AutoUpdateKB,
		time.Now().UTC(),
		id,
	).Scan(&bot.UpdatedAt)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to update bot", err)
	}

	return bot, nil
}

func (s *PostgresStorage) AddCrawlerLink(ctx context.Context, botID, url string) (*models.CrawlerLink, error) {
	link := &models.CrawlerLink{
		ID:    uuid.New().String(),
		BotID: botID,
		URL:   url,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO crawler_links (id, bot_id, url) VALUES ($1, $2, $3) RETURNING created_at`,
		link.ID, link.BotID, link.URL,
	).Scan(&link.CreatedAt)
	if err != nil {
		return nil, errs.StoreError("PostgresStorage.AddCrawlerLink", "Failed to add crawler link", err)
	}
	return link, nil
}

func (s *PostgresStorage) GetCrawlerLinks(ctx context.Context, botID string) ([]string, error) {
	const op = "PostgresStorage.GetCrawlerLinks"

	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM crawler_links WHERE bot_id = $1 ORDER BY created_at ASC`, botID)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to fetch crawler links", err)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, errs.StoreError(op, "Failed to fetch crawler links", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreError(op, "Failed to fetch crawler links", err)
	}
	return urls, nil
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, botID string, role models.Role, content, threadID string) (*models.Message, error) {
	msg := &models.Message{
		ID:       uuid.New().String(),
		BotID:    botID,
		ThreadID: threadID,
		Role:     role,
		Content:  content,
	}

	query := `
		INSERT INTO messages (id, bot_id, thread_id, role, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, msg.ID, msg.BotID, msg.ThreadID, string(msg.Role), msg.Content).
		Scan(&msg.CreatedAt)
	if err != nil {
		return nil, errs.StoreError("PostgresStorage.CreateMessage", "Failed to create message", err)
	}

	return msg, nil
}

func (s *PostgresStorage) GetMessages(ctx context.Context, botID, threadID string, limit int) ([]*models.Message, error) {
	const op = "PostgresStorage.GetMessages"

	query := `SELECT id, bot_id, thread_id, role, content, created_at FROM messages WHERE bot_id = $1`
	args := []any{botID}
	if threadID != "" {
		args = append(args, threadID)
		query += fmt.Sprintf(" AND thread_id = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to fetch messages", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var role string
		if err := rows.Scan(&msg.ID, &msg.BotID, &msg.ThreadID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, errs.StoreError(op, "Failed to fetch messages", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreError(op, "Failed to fetch messages", err)
	}

	return messages, nil
}

// InsertEmbeddings writes every record in a single transaction.
func (s *PostgresStorage) InsertEmbeddings(ctx context.Context, records []*models.EmbeddingRecord) (int, error) {
	const op = "PostgresStorage.InsertEmbeddings"

	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.StoreError(op, "Failed to store embeddings", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}

		var sb strings.Builder
		sb.WriteString(`INSERT INTO embeddings (id, content, embedding, metadata, bot_id, tag, created_at) VALUES `)
		args := make([]any, 0, (end-start)*7)
		for i, rec := range records[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			n := len(args)
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
			rec.CreatedAt = now
			args = append(args, rec.ID, rec.Content, pgvector.NewVector(rec.Embedding), rec.Metadata, rec.BotID, rec.Tag, rec.CreatedAt)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return 0, errs.StoreError(op, "Failed to store embeddings", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.StoreError(op, "Failed to store embeddings", err)
	}

	return len(records), nil
}

func (s *PostgresStorage) QuerySimilar(ctx context.Context, botID string, vector []float32, limit int, threshold float64) ([]models.SimilarityResult, error) {
	const op = "PostgresStorage.QuerySimilar"

	if limit <= 0 {
		return []models.SimilarityResult{}, nil
	}

	query := `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM embeddings
		WHERE bot_id = $2
		AND 1 - (embedding <=> $1) > $3
		ORDER BY similarity DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), botID, threshold, limit)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to query similar embeddings", err)
	}
	defer rows.Close()

	results := []models.SimilarityResult{}
	for rows.Next() {
		var r models.SimilarityResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, errs.StoreError(op, "Failed to query similar embeddings", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreError(op, "Failed to query similar embeddings", err)
	}

	return results, nil
}

func (s *PostgresStorage) DeleteEmbeddings(ctx context.Context, ids []string) (int, error) {
	return s.execCount(ctx, "PostgresStorage.DeleteEmbeddings",
		`DELETE FROM embeddings WHERE id = ANY($1)`, pq.Array(ids))
}

func (s *PostgresStorage) DeleteByBotID(ctx context.Context, botID string) (int, error) {
	return s.execCount(ctx, "PostgresStorage.DeleteByBotID",
		`DELETE FROM embeddings WHERE bot_id = $1`, botID)
}

func (s *PostgresStorage) DeleteByBotIDAndSource(ctx context.Context, botID, source string) (int, error) {
	return s.execCount(ctx, "PostgresStorage.DeleteByBotIDAndSource",
		`DELETE FROM embeddings WHERE bot_id = $1 AND metadata->>'source' LIKE $2 ESCAPE '\'`,
		botID, "%"+escapeLike(source)+"%")
}

func (s *PostgresStorage) DeleteByBotIDAndTag(ctx context.Context, botID, tag string) (int, error) {
	return s.execCount(ctx, "PostgresStorage.DeleteByBotIDAndTag",
		`DELETE FROM embeddings WHERE bot_id = $1 AND tag = $2`, botID, tag)
}

func (s *PostgresStorage) execCount(ctx context.Context, op, query string, args ...any) (int, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errs.StoreError(op, "Failed to delete embeddings", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errs.StoreError(op, "Failed to delete embeddings", err)
	}
	return int(rowsAffected), nil
}

func (s *PostgresStorage) UpdateEmbeddingMetadata(ctx context.Context, id string, metadata models.Metadata) (*models.EmbeddingRecord, error) {
	query := `
		UPDATE embeddings
		SET metadata = $1
		WHERE id = $2
		RETURNING id, content, metadata, bot_id, tag, created_at`

	rec := &models.EmbeddingRecord{}
	err := s.db.QueryRowContext(ctx, query, metadata, id).
		Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.BotID, &rec.Tag, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no embedding found with id %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, errs.StoreError("PostgresStorage.UpdateEmbeddingMetadata", "Failed to update embedding metadata", err)
	}
	return rec, nil
}

func (s *PostgresStorage) ListEmbeddingsByBotID(ctx context.Context, botID string) ([]*models.EmbeddingRecord, error) {
	const op = "PostgresStorage.ListEmbeddingsByBotID"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, metadata, bot_id, tag, created_at
		FROM embeddings
		WHERE bot_id = $1
		ORDER BY created_at DESC`, botID)
	if err != nil {
		return nil, errs.StoreError(op, "Failed to fetch embeddings", err)
	}
	defer rows.Close()

	records := []*models.EmbeddingRecord{}
	for rows.Next() {
		rec := &models.EmbeddingRecord{}
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.BotID, &rec.Tag, &rec.CreatedAt); err != nil {
			return nil, errs.StoreError(op, "Failed to fetch embeddings", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreError(op, "Failed to fetch embeddings", err)
	}
	return records, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
