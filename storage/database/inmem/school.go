package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
)

type schoolRepository struct {
	db *schoolTables
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db.school}
}

func (repo *schoolRepository) CreateSchool(_ context.Context, sch school.School) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch.ID = uuid.NewString()
	repo.db.schools[sch.ID] = &sch
	return sch, nil
}

func (repo *schoolRepository) GetSchoolByID(_ context.Context, id string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sch, ok := repo.db.schools[id]; ok {
		return *sch, nil
	}
	return school.School{}, school.ErrSchoolNotFound
}

func (repo *schoolRepository) QuerySchools(_ context.Context) ([]school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	schools := make([]school.School, 0, len(repo.db.schools))
	for _, sch := range repo.db.schools {
		schools = append(schools, *sch)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].Name < schools[j].Name })
	return schools, nil
}

func (repo *schoolRepository) UpdateSchool(_ context.Context, sch school.School) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.schools[sch.ID]
	if !ok {
		return school.School{}, school.ErrSchoolNotFound
	}
	if sch.Name != "" {
		orig.Name = sch.Name
	}
	if sch.Address != "" {
		orig.Address = sch.Address
	}
	orig.UpdatedAt = sch.UpdatedAt
	return *orig, nil
}

func (repo *schoolRepository) DeleteSchoolsByID(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.schools, id)
	}
	return nil
}

func (repo *schoolRepository) CreateClass(_ context.Context, cls school.Class) (school.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cls.ID = uuid.NewString()
	repo.db.classes[cls.ID] = &cls
	return cls, nil
}

func (repo *schoolRepository) GetClassByID(_ context.Context, id string) (school.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cls, ok := repo.db.classes[id]; ok {
		return *cls, nil
	}
	return school.Class{}, school.ErrClassNotFound
}

func (repo *schoolRepository) QueryClasses(_ context.Context, schoolID string, teacherID ...string) ([]school.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var classes []school.Class
	for _, cls := range repo.db.classes {
		if cls.SchoolID != schoolID {
			continue
		}
		if len(teacherID) > 0 && cls.TeacherID != teacherID[0] {
			continue
		}
		classes = append(classes, *cls)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func (repo *schoolRepository) CreateStudent(_ context.Context, std school.Student) (school.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	std.ID = uuid.NewString()
	repo.db.students[std.ID] = &std
	return std, nil
}

func (repo *schoolRepository) GetStudentByID(_ context.Context, id string) (school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if std, ok := repo.db.students[id]; ok {
		return *std, nil
	}
	return school.Student{}, school.ErrStudentNotFound
}

func (repo *schoolRepository) GetStudentsByID(_ context.Context, ids ...string) ([]school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := make([]school.Student, 0, len(ids))
	for _, id := range ids {
		if std, ok := repo.db.students[id]; ok {
			students = append(students, *std)
		}
	}
	return students, nil
}

func (repo *schoolRepository) GetStudentByRegistrationNumber(_ context.Context, number string) (school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, std := range repo.db.students {
		if std.RegistrationNumber == number {
			return *std, nil
		}
	}
	return school.Student{}, school.ErrStudentNotFound
}

func (repo *schoolRepository) FilterStudents(_ context.Context, filter school.StudentFilter, ordering ...core.DBOrdering) ([]school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var students []school.Student
	search := strings.ToLower(filter.Search)
	for _, std := range repo.db.students {
		if filter.SchoolID != "" && std.SchoolID != filter.SchoolID {
			continue
		}
		if filter.ClassID != "" && std.ClassID != filter.ClassID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(std.Name), search) &&
			!strings.Contains(std.RegistrationNumber, search) {
			continue
		}
		students = append(students, *std)
	}

	orderStudents(students, ordering)
	return students, nil
}

func (repo *schoolRepository) CreateAnnouncement(_ context.Context, ann school.Announcement) (school.Announcement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ann.ID = uuid.NewString()
	repo.db.announcements[ann.ID] = &ann
	return ann, nil
}

func (repo *schoolRepository) QueryAnnouncements(_ context.Context, schoolID string) ([]school.Announcement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var anns []school.Announcement
	for _, ann := range repo.db.announcements {
		if ann.SchoolID == schoolID {
			anns = append(anns, *ann)
		}
	}
	// newest first
	sort.Slice(anns, func(i, j int) bool { return anns[i].CreatedAt.After(anns[j].CreatedAt) })
	return anns, nil
}

func (repo *schoolRepository) CreateAttendance(_ context.Context, att school.Attendance) (school.Attendance, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// one record per (class, student, day); marking again overwrites
	for _, existing := range repo.db.attendance {
		if existing.ClassID == att.ClassID && existing.StudentID == att.StudentID && existing.Date.Equal(att.Date) {
			existing.Status = att.Status
			return *existing, nil
		}
	}
	att.ID = uuid.NewString()
	repo.db.attendance[att.ID] = &att
	return att, nil
}

func (repo *schoolRepository) QueryAttendance(_ context.Context, classID string, date time.Time) ([]school.Attendance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var atts []school.Attendance
	for _, att := range repo.db.attendance {
		if att.ClassID == classID && att.Date.Equal(date) {
			atts = append(atts, *att)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].StudentID < atts[j].StudentID })
	return atts, nil
}

func orderStudents(students []school.Student, ordering []core.DBOrdering) {
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		sort.SliceStable(students, func(a, b int) bool {
			var less bool
			switch ord.Field {
			case "registration_number":
				less = students[a].RegistrationNumber < students[b].RegistrationNumber
			case "created_at":
				less = students[a].CreatedAt.Before(students[b].CreatedAt)
			default: // name
				less = students[a].Name < students[b].Name
			}
			if ord.Ascending {
				return less
			}
			return !less
		})
	}
}
