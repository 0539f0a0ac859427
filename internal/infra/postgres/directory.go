package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.Directory = (*Directory)(nil)

// Directory reads student, center and grade rows owned by the surrounding
// tutoring system.
type Directory struct {
	db *bun.DB
}

func NewDirectory(db *bun.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Student(ctx context.Context, id int64) (*domain.Student, error) {
	student := new(domain.Student)
	err := d.db.NewSelect().Model(student).
		Relation("Center").
		Relation("Grade").
		Where("student.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	return student, nil
}

func (d *Directory) StudentsByGradeAndCenters(ctx context.Context, gradeID int64, centerIDs []int64) ([]*domain.Student, error) {
	if len(centerIDs) == 0 {
		return nil, nil
	}
	var students []*domain.Student
	err := d.db.NewSelect().Model(&students).
		Relation("Center").
		Relation("Grade").
		Where("student.grade_id = ?", gradeID).
		Where("student.center_id IN (?)", bun.In(centerIDs)).
		Order("student.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

func (d *Directory) CentersOwnedBy(ctx context.Context, teacherID int64) ([]*domain.Center, error) {
	var centers []*domain.Center
	err := d.db.NewSelect().Model(&centers).
		Where("teacher_id = ?", teacherID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	return centers, nil
}
