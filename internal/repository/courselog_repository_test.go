package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

func newCourseLogMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sectionEntry(index int, id string, credit, capacity int) EnrollmentEntry {
	return EnrollmentEntry{
		Index: index,
		Section: &models.CourseSectionDetail{
			CourseSection: models.CourseSection{
				ID:            id,
				CourseID:      "course-" + id,
				TermID:        "term-1",
				TotalCapacity: capacity,
			},
			CourseCredit: credit,
		},
	}
}

func expectSectionLocks(mock sqlmock.Sqlmock, ids ...string) {
	for _, id := range ids {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM course_sections WHERE id = $1 FOR UPDATE`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	}
}

func expectUsedCredits(mock sqlmock.Sqlmock, used int) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(c.credit), 0)")).
		WithArgs("stu-1", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(used))
}

func expectSectionChecks(mock sqlmock.Sqlmock, sectionID string, filled int, enrolled bool) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_logs WHERE section_id = $1")).
		WithArgs(sectionID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(filled))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stu-1", "course-"+sectionID, "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(enrolled))
}

func TestCourseLogRepositoryCreateBatch(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	// Entries arrive out of id order; locks must still be taken in order.
	entries := []EnrollmentEntry{
		sectionEntry(0, "sec-b", 3, 30),
		sectionEntry(1, "sec-a", 4, 30),
	}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a", "sec-b")
	expectUsedCredits(mock, 6)
	expectSectionChecks(mock, "sec-b", 10, false)
	expectSectionChecks(mock, "sec-a", 5, false)
	mock.ExpectExec("INSERT INTO course_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO course_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	logs, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "sec-b", logs[0].SectionID)
	assert.Equal(t, models.CourseLogStatusUnavailable, logs[0].Status)
	assert.NotEmpty(t, logs[0].PublicID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryCreateBatchCreditCeiling(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	entries := []EnrollmentEntry{sectionEntry(0, "sec-a", 4, 30)}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a")
	expectUsedCredits(mock, 15)
	expectSectionChecks(mock, "sec-a", 0, false)
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "course_sections", fields[0].Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryCreateBatchCapacityFull(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	entries := []EnrollmentEntry{
		sectionEntry(0, "sec-a", 3, 30),
		sectionEntry(1, "sec-b", 3, 25),
	}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a", "sec-b")
	expectUsedCredits(mock, 0)
	expectSectionChecks(mock, "sec-a", 5, false)
	expectSectionChecks(mock, "sec-b", 25, false)
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Index)
	assert.Equal(t, "course_section", fields[0].Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryCreateBatchSameCourseTwice(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	// Two different sections of one course in the same batch. Neither has
	// a committed row yet, so only the in-batch check can catch it.
	dup := sectionEntry(1, "sec-b", 3, 30)
	dup.Section.CourseID = "course-sec-a"
	entries := []EnrollmentEntry{
		sectionEntry(0, "sec-a", 3, 30),
		dup,
	}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a", "sec-b")
	expectUsedCredits(mock, 0)
	expectSectionChecks(mock, "sec-a", 5, false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_logs WHERE section_id = $1")).
		WithArgs("sec-b").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stu-1", "course-sec-a", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Index)
	assert.Equal(t, "course_section", fields[0].Field)
	assert.Contains(t, fields[0].Message, "more than once")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryCreateBatchAlreadyEnrolled(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	entries := []EnrollmentEntry{sectionEntry(0, "sec-a", 3, 30)}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a")
	expectUsedCredits(mock, 0)
	expectSectionChecks(mock, "sec-a", 1, true)
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Contains(t, fields[0].Message, "already enrolled")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryCreateBatchUniqueViolation(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	entries := []EnrollmentEntry{sectionEntry(0, "sec-a", 3, 30)}

	mock.ExpectBegin()
	expectSectionLocks(mock, "sec-a")
	expectUsedCredits(mock, 0)
	expectSectionChecks(mock, "sec-a", 0, false)
	mock.ExpectExec("INSERT INTO course_logs").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "course_logs_student_section_key"})
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), "stu-1", "term-1", entries, 18)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryUpdateGrades(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	midterm := 17
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("midterm_exam = COALESCE($2, midterm_exam)")).
		WithArgs("CL-1", &midterm, nil, nil, models.CourseLogStatusNotApproved, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateGrades(context.Background(), []models.GradePatch{{PublicID: "CL-1", MidtermExam: &midterm}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryUpdateGradesUnknownRecord(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE course_logs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateGrades(context.Background(), []models.GradePatch{{PublicID: "CL-missing"}})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryApproveByPublicIDs(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	mock.ExpectExec("UPDATE course_logs SET status").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ApproveByPublicIDs(context.Background(), []string{"CL-1", "CL-2", "CL-3"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryApproveEmptyBatch(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	n, err := repo.ApproveByPublicIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_logs WHERE id = $1")).
		WithArgs("cl-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "cl-missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseLogRepositoryList(t *testing.T) {
	db, mock, cleanup := newCourseLogMock(t)
	defer cleanup()
	repo := NewCourseLogRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "public_id", "student_id", "section_id", "midterm_exam", "final_exam",
		"final_grade", "status", "created_at", "updated_at",
		"student_public_id", "student_name", "section_public_id", "section_local_id",
		"course_name", "course_credit", "term_public_id",
	}).AddRow("cl-1", "CL-1", "stu-1", "sec-1", nil, nil, nil,
		models.CourseLogStatusUnavailable, now, now,
		"USR-1", "Sara Karimi", "SEC-1", 1, "Algorithms", 3, "TRM-1")

	mock.ExpectQuery("(?s)SELECT .+ FROM course_logs cl.+WHERE stu.public_id").
		WithArgs("USR-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_logs cl")).
		WithArgs("USR-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	logs, total, err := repo.List(context.Background(), models.CourseLogFilter{StudentPublicID: "USR-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "CL-1", logs[0].PublicID)
	assert.Equal(t, "Algorithms", logs[0].CourseName)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
