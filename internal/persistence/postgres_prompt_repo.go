package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"octopus/internal/core"
)

// postgresPromptRepo implements PromptRepository for PostgreSQL
type postgresPromptRepo struct {
	db *sql.DB
}

// RecordPrompt appends record. The temperature is stored as text.
func (r *postgresPromptRepo) RecordPrompt(ctx context.Context, record *core.PromptRecord) error {
	var temp sql.NullString
	if record.Temperature != nil {
		temp = sql.NullString{String: strconv.FormatFloat(*record.Temperature, 'f', -1, 64), Valid: true}
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO prompts (prompt_text, response_text, response_format, temperature, max_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, record.PromptText, record.ResponseText, record.ResponseFormat, temp, record.MaxTokens,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record prompt: %w", err)
	}
	return nil
}

func scanPrompt(row rowScanner) (*core.PromptRecord, error) {
	var p core.PromptRecord
	var temp sql.NullString
	if err := row.Scan(&p.ID, &p.PromptText, &p.ResponseText, &p.ResponseFormat, &temp, &p.MaxTokens, &p.CreatedAt); err != nil {
		return nil, err
	}
	if temp.Valid {
		if v, err := strconv.ParseFloat(temp.String, 64); err == nil {
			p.Temperature = &v
		}
	}
	return &p, nil
}
