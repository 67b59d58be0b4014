package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

const uniqueViolation = "23505"

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id TEXT PRIMARY KEY,
    character_name TEXT NOT NULL,
    character_metadata JSONB NOT NULL DEFAULT '{}',
    user_id TEXT NOT NULL,
    age INT NOT NULL,
    gender TEXT NOT NULL,
    location CHAR(2) NOT NULL,
    language CHAR(2) NOT NULL,
    interests TEXT[] NOT NULL DEFAULT '{}',
    platform_name TEXT NOT NULL,
    platform_version TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_id ON chat_sessions (user_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create inserts a session. A duplicate ID yields ErrSessionExists.
func (p *Postgres) Create(ctx context.Context, s models.SessionInfo) error {
	meta := s.CharacterMetadata
	if meta == nil {
		meta = models.DefaultCharacterMetadata()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal character metadata: %w", err)
	}
	interests := make([]string, len(s.UserInfo.Interests))
	for i, in := range s.UserInfo.Interests {
		interests[i] = string(in)
	}

	_, err = p.DB.ExecContext(ctx, `INSERT INTO chat_sessions (
        session_id, character_name, character_metadata, user_id, age, gender,
        location, language, interests, platform_name, platform_version
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.SessionID, s.CharacterName, metaJSON, s.UserInfo.UserID, s.UserInfo.Age,
		string(s.UserInfo.Gender), s.UserInfo.Location, s.UserInfo.Language,
		pq.Array(interests), s.Platform.Name, s.Platform.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads a session by ID.
func (p *Postgres) Get(ctx context.Context, id string) (models.SessionInfo, error) {
	var (
		s         models.SessionInfo
		metaJSON  []byte
		gender    string
		interests []string
	)
	err := p.DB.QueryRowContext(ctx, `SELECT session_id, character_name, character_metadata,
        user_id, age, gender, location, language, interests, platform_name, platform_version
        FROM chat_sessions WHERE session_id = $1`, id).Scan(
		&s.SessionID, &s.CharacterName, &metaJSON, &s.UserInfo.UserID, &s.UserInfo.Age,
		&gender, &s.UserInfo.Location, &s.UserInfo.Language, pq.Array(&interests),
		&s.Platform.Name, &s.Platform.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionInfo{}, ErrSessionNotFound
	}
	if err != nil {
		return models.SessionInfo{}, fmt.Errorf("query session: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &s.CharacterMetadata); err != nil {
		return models.SessionInfo{}, fmt.Errorf("decode character metadata: %w", err)
	}
	s.UserInfo.Gender = models.Gender(gender)
	s.UserInfo.Interests = make([]models.Interest, len(interests))
	for i, in := range interests {
		s.UserInfo.Interests[i] = models.Interest(in)
	}
	return s, nil
}

// Delete removes a session.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
