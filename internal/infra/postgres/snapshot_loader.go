package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.QuizReader = (*SnapshotLoader)(nil)

// SnapshotLoader reads the denormalized quiz JSON the definition store writes
// on every quiz mutation. The hot read path (start, submit, availability)
// goes cache -> snapshot, never touching the relational tree.
type SnapshotLoader struct {
	pool *pgxpool.Pool
}

func NewSnapshotLoader(pool *pgxpool.Pool) *SnapshotLoader {
	return &SnapshotLoader{pool: pool}
}

func (l *SnapshotLoader) GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quiz_snapshots WHERE quiz_id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz snapshot: %w", err)
	}
	quiz := new(domain.Quiz)
	if err := json.Unmarshal(raw, quiz); err != nil {
		return nil, fmt.Errorf("unmarshal quiz snapshot: %w", err)
	}
	return quiz, nil
}
