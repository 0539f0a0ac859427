package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_core.sql
var createCoreSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createCoreSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS quiz_snapshots;
				DROP TABLE IF EXISTS answer_choices;
				DROP TABLE IF EXISTS answers;
				DROP TABLE IF EXISTS submissions;
				DROP TABLE IF EXISTS choices;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS quiz_windows;
				DROP TABLE IF EXISTS quiz_settings;
				DROP TABLE IF EXISTS quizzes;
				DROP TABLE IF EXISTS students;
				DROP TABLE IF EXISTS centers;
				DROP TABLE IF EXISTS grades`)
			return err
		},
	)
}
