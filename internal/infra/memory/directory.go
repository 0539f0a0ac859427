package memory

import (
	"context"
	"sort"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.Directory = (*Store)(nil)

func (s *Store) Student(_ context.Context, id int64) (*domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	student, ok := s.students[id]
	if !ok {
		return nil, domain.ErrStudentNotFound
	}
	return s.copyStudent(student), nil
}

func (s *Store) StudentsByGradeAndCenters(_ context.Context, gradeID int64, centerIDs []int64) ([]*domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int64]bool, len(centerIDs))
	for _, id := range centerIDs {
		want[id] = true
	}
	var out []*domain.Student
	for _, student := range s.students {
		if student.GradeID == gradeID && want[student.CenterID] {
			out = append(out, s.copyStudent(student))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CentersOwnedBy(_ context.Context, teacherID int64) ([]*domain.Center, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Center
	for _, center := range s.centers {
		if center.TeacherID == teacherID {
			c := *center
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// copyStudent resolves the center and grade relations, callers under RLock.
func (s *Store) copyStudent(student *domain.Student) *domain.Student {
	out := *student
	if center, ok := s.centers[student.CenterID]; ok {
		c := *center
		out.Center = &c
	}
	if grade, ok := s.grades[student.GradeID]; ok {
		g := *grade
		out.Grade = &g
	}
	return &out
}

// SeedGrade, SeedCenter and SeedStudent populate directory data for tests and
// demo mode.
func (s *Store) SeedGrade(name string) *domain.Grade {
	s.mu.Lock()
	defer s.mu.Unlock()
	grade := &domain.Grade{ID: s.nextID(), Name: name}
	s.grades[grade.ID] = grade
	return grade
}

func (s *Store) SeedCenter(teacherID int64, name string) *domain.Center {
	s.mu.Lock()
	defer s.mu.Unlock()
	center := &domain.Center{ID: s.nextID(), TeacherID: teacherID, Name: name}
	s.centers[center.ID] = center
	return center
}

func (s *Store) SeedStudent(teacherID int64, name string, gradeID, centerID int64) *domain.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	student := &domain.Student{
		ID:        s.nextID(),
		TeacherID: teacherID,
		FullName:  name,
		GradeID:   gradeID,
		CenterID:  centerID,
	}
	s.students[student.ID] = student
	return student
}
