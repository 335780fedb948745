package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
)

type schoolRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sql.DB) school.Repository {
	return &schoolRepository{db: sqlx.NewDb(db, "postgres")}
}

type (
	schoolRow struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		Address   string    `db:"address"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	classRow struct {
		ID        string      `db:"id"`
		SchoolID  string      `db:"school_id"`
		Name      string      `db:"name"`
		TeacherID null.String `db:"teacher_id"`
		CreatedAt time.Time   `db:"created_at"`
		UpdatedAt time.Time   `db:"updated_at"`
	}

	studentRow struct {
		ID                 string      `db:"id"`
		SchoolID           string      `db:"school_id"`
		ClassID            null.String `db:"class_id"`
		Name               string      `db:"name"`
		RegistrationNumber string      `db:"registration_number"`
		CreatedAt          time.Time   `db:"created_at"`
		UpdatedAt          time.Time   `db:"updated_at"`
	}

	announcementRow struct {
		ID        string    `db:"id"`
		SchoolID  string    `db:"school_id"`
		Title     string    `db:"title"`
		Body      string    `db:"body"`
		CreatedAt time.Time `db:"created_at"`
	}

	attendanceRow struct {
		ID        string    `db:"id"`
		ClassID   string    `db:"class_id"`
		StudentID string    `db:"student_id"`
		Date      time.Time `db:"date"`
		Status    string    `db:"status"`
		CreatedAt time.Time `db:"created_at"`
	}
)

func (row schoolRow) toSchool() school.School {
	return school.School(row)
}

func (row classRow) toClass() school.Class {
	return school.Class{
		ID:        row.ID,
		SchoolID:  row.SchoolID,
		Name:      row.Name,
		TeacherID: row.TeacherID.String,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func (row studentRow) toStudent() school.Student {
	return school.Student{
		ID:                 row.ID,
		SchoolID:           row.SchoolID,
		ClassID:            row.ClassID.String,
		Name:               row.Name,
		RegistrationNumber: row.RegistrationNumber,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func (row announcementRow) toAnnouncement() school.Announcement {
	return school.Announcement(row)
}

func (row attendanceRow) toAttendance() school.Attendance {
	return school.Attendance(row)
}

func (repo *schoolRepository) CreateSchool(ctx context.Context, sch school.School) (school.School, error) {
	var row schoolRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO schools (name, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, address, created_at, updated_at`,
		sch.Name, sch.Address, sch.CreatedAt, sch.UpdatedAt,
	)
	if err != nil {
		return school.School{}, errors.Wrap(err, "inserting school")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) GetSchoolByID(ctx context.Context, id string) (school.School, error) {
	var row schoolRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT id, name, address, created_at, updated_at FROM schools WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, school.ErrSchoolNotFound
		}
		return school.School{}, errors.Wrap(err, "getting school")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) QuerySchools(ctx context.Context) ([]school.School, error) {
	var rows []schoolRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, name, address, created_at, updated_at FROM schools ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "querying schools")
	}
	schools := make([]school.School, 0, len(rows))
	for _, row := range rows {
		schools = append(schools, row.toSchool())
	}
	return schools, nil
}

func (repo *schoolRepository) UpdateSchool(ctx context.Context, sch school.School) (school.School, error) {
	var row schoolRow
	err := repo.db.GetContext(ctx, &row,
		`UPDATE schools SET
		   name = COALESCE(NULLIF($2, ''), name),
		   address = COALESCE(NULLIF($3, ''), address),
		   updated_at = $4
		 WHERE id = $1
		 RETURNING id, name, address, created_at, updated_at`,
		sch.ID, sch.Name, sch.Address, sch.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, school.ErrSchoolNotFound
		}
		return school.School{}, errors.Wrap(err, "updating school")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) DeleteSchoolsByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM schools WHERE id = ANY($1)`, pq.Array(ids))
	return errors.Wrap(err, "deleting schools")
}

func (repo *schoolRepository) CreateClass(ctx context.Context, cls school.Class) (school.Class, error) {
	var row classRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO classes (school_id, name, teacher_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, school_id, name, teacher_id, created_at, updated_at`,
		cls.SchoolID, cls.Name, null.NewString(cls.TeacherID, cls.TeacherID != ""), cls.CreatedAt, cls.UpdatedAt,
	)
	if err != nil {
		return school.Class{}, errors.Wrap(err, "inserting class")
	}
	return row.toClass(), nil
}

func (repo *schoolRepository) GetClassByID(ctx context.Context, id string) (school.Class, error) {
	var row classRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT id, school_id, name, teacher_id, created_at, updated_at FROM classes WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.Class{}, school.ErrClassNotFound
		}
		return school.Class{}, errors.Wrap(err, "getting class")
	}
	return row.toClass(), nil
}

func (repo *schoolRepository) QueryClasses(ctx context.Context, schoolID string, teacherID ...string) ([]school.Class, error) {
	query := `SELECT id, school_id, name, teacher_id, created_at, updated_at FROM classes WHERE school_id = $1`
	args := []interface{}{schoolID}
	if len(teacherID) > 0 {
		query += ` AND teacher_id = $2`
		args = append(args, teacherID[0])
	}
	query += ` ORDER BY name`

	var rows []classRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]school.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, row.toClass())
	}
	return classes, nil
}

func (repo *schoolRepository) CreateStudent(ctx context.Context, std school.Student) (school.Student, error) {
	var row studentRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO students (school_id, class_id, name, registration_number, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, school_id, class_id, name, registration_number, created_at, updated_at`,
		std.SchoolID, null.NewString(std.ClassID, std.ClassID != ""), std.Name, std.RegistrationNumber,
		std.CreatedAt, std.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return school.Student{}, school.ErrRegistrationExists
		}
		return school.Student{}, errors.Wrap(err, "inserting student")
	}
	return row.toStudent(), nil
}

func (repo *schoolRepository) GetStudentByID(ctx context.Context, id string) (school.Student, error) {
	var row studentRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT id, school_id, class_id, name, registration_number, created_at, updated_at
		 FROM students WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.Student{}, school.ErrStudentNotFound
		}
		return school.Student{}, errors.Wrap(err, "getting student")
	}
	return row.toStudent(), nil
}

func (repo *schoolRepository) GetStudentsByID(ctx context.Context, ids ...string) ([]school.Student, error) {
	var rows []studentRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, school_id, class_id, name, registration_number, created_at, updated_at
		 FROM students WHERE id = ANY($1) ORDER BY name`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "querying students by id")
	}
	students := make([]school.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toStudent())
	}
	return students, nil
}

func (repo *schoolRepository) GetStudentByRegistrationNumber(ctx context.Context, number string) (school.Student, error) {
	var row studentRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT id, school_id, class_id, name, registration_number, created_at, updated_at
		 FROM students WHERE registration_number = $1`, number)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.Student{}, school.ErrStudentNotFound
		}
		return school.Student{}, errors.Wrap(err, "getting student by registration number")
	}
	return row.toStudent(), nil
}

func (repo *schoolRepository) FilterStudents(ctx context.Context, filter school.StudentFilter, ordering ...core.DBOrdering) ([]school.Student, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SchoolID != "" {
		conds = append(conds, fmt.Sprintf("school_id = %s", arg(filter.SchoolID)))
	}
	if filter.ClassID != "" {
		conds = append(conds, fmt.Sprintf("class_id = %s", arg(filter.ClassID)))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR registration_number ILIKE %s)", p, p))
	}

	query := `SELECT id, school_id, class_id, name, registration_number, created_at, updated_at FROM students`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderByClause(ordering, map[string]bool{"name": true, "registration_number": true, "created_at": true}, "name ASC")

	var rows []studentRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering students")
	}
	students := make([]school.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toStudent())
	}
	return students, nil
}

func (repo *schoolRepository) CreateAnnouncement(ctx context.Context, ann school.Announcement) (school.Announcement, error) {
	var row announcementRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO announcements (school_id, title, body, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, school_id, title, body, created_at`,
		ann.SchoolID, ann.Title, ann.Body, ann.CreatedAt,
	)
	if err != nil {
		return school.Announcement{}, errors.Wrap(err, "inserting announcement")
	}
	return row.toAnnouncement(), nil
}

func (repo *schoolRepository) QueryAnnouncements(ctx context.Context, schoolID string) ([]school.Announcement, error) {
	var rows []announcementRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, school_id, title, body, created_at FROM announcements
		 WHERE school_id = $1 ORDER BY created_at DESC`, schoolID)
	if err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	anns := make([]school.Announcement, 0, len(rows))
	for _, row := range rows {
		anns = append(anns, row.toAnnouncement())
	}
	return anns, nil
}

func (repo *schoolRepository) CreateAttendance(ctx context.Context, att school.Attendance) (school.Attendance, error) {
	var row attendanceRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO attendance (class_id, student_id, date, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (class_id, student_id, date) DO UPDATE SET status = EXCLUDED.status
		 RETURNING id, class_id, student_id, date, status, created_at`,
		att.ClassID, att.StudentID, att.Date, att.Status, att.CreatedAt,
	)
	if err != nil {
		return school.Attendance{}, errors.Wrap(err, "inserting attendance")
	}
	return row.toAttendance(), nil
}

func (repo *schoolRepository) QueryAttendance(ctx context.Context, classID string, date time.Time) ([]school.Attendance, error) {
	var rows []attendanceRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, class_id, student_id, date, status, created_at FROM attendance
		 WHERE class_id = $1 AND date = $2 ORDER BY student_id`, classID, date)
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	atts := make([]school.Attendance, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, row.toAttendance())
	}
	return atts, nil
}
