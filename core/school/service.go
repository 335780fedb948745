package school

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
)

var (
	ErrSchoolNotFound       = errors.New("school not found")
	ErrClassNotFound        = errors.New("class not found")
	ErrStudentNotFound      = errors.New("student not found")
	ErrRegistrationExists   = errors.New("a student with this registration number already exists")
	ErrAnnouncementNotFound = errors.New("announcement not found")
)

type (
	Repository interface {
		CreateSchool(ctx context.Context, sch School) (School, error)
		GetSchoolByID(ctx context.Context, id string) (School, error)
		QuerySchools(ctx context.Context) ([]School, error)
		UpdateSchool(ctx context.Context, sch School) (School, error)
		DeleteSchoolsByID(ctx context.Context, ids ...string) error

		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, schoolID string, teacherID ...string) ([]Class, error)

		CreateStudent(ctx context.Context, std Student) (Student, error)
		GetStudentByID(ctx context.Context, id string) (Student, error)
		GetStudentsByID(ctx context.Context, ids ...string) ([]Student, error)
		GetStudentByRegistrationNumber(ctx context.Context, number string) (Student, error)
		FilterStudents(ctx context.Context, filter StudentFilter, ordering ...core.DBOrdering) ([]Student, error)

		CreateAnnouncement(ctx context.Context, ann Announcement) (Announcement, error)
		QueryAnnouncements(ctx context.Context, schoolID string) ([]Announcement, error)

		CreateAttendance(ctx context.Context, att Attendance) (Attendance, error)
		QueryAttendance(ctx context.Context, classID string, date time.Time) ([]Attendance, error)
	}

	// GuardianDirectory lists the notification recipients of a school;
	// implemented over the user service by the app wiring.
	GuardianDirectory interface {
		ListGuardianEmails(ctx context.Context, tenantID string) ([]mail.Address, error)
	}

	ServiceInterface interface {
		session.StudentDirectory

		CheckRegistrationNumberUniqueness(number string) error

		CreateSchool(ctx context.Context, ns NewSchool) (School, error)
		GetSchool(ctx context.Context, id string) (School, error)
		QuerySchools(ctx context.Context) ([]School, error)
		UpdateSchool(ctx context.Context, id string, us UpdateSchool) (School, error)
		DeleteSchools(ctx context.Context, ids ...string) error

		CreateClass(ctx context.Context, schoolID string, nc NewClass) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, schoolID string, teacherID ...string) ([]Class, error)

		CreateStudent(ctx context.Context, schoolID string, ns NewStudent) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		GetStudents(ctx context.Context, ids ...string) ([]Student, error)
		FilterStudents(ctx context.Context, filter StudentFilter, ordering ...core.DBOrdering) ([]Student, error)

		PublishAnnouncement(ctx context.Context, schoolID string, na NewAnnouncement) (Announcement, error)
		QueryAnnouncements(ctx context.Context, schoolID string) ([]Announcement, error)

		MarkAttendance(ctx context.Context, classID string, ma MarkAttendance) (Attendance, error)
		QueryAttendance(ctx context.Context, classID string, date time.Time) ([]Attendance, error)
	}

	Service struct {
		conf      *core.Config
		repo      Repository
		guardians GuardianDirectory
		mailSvc   core.EmailService
		logger    core.Logger
	}
)

var (
	_ ServiceInterface         = (*Service)(nil)
	_ session.StudentDirectory = (*Service)(nil)
)

func NewService(conf *core.Config, repo Repository, guardians GuardianDirectory, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		conf:      conf,
		repo:      repo,
		guardians: guardians,
		mailSvc:   mailSvc,
		logger:    logger,
	}
}

// FindByRegistrationNumber is the signup-time point lookup; it maps a
// registration number to the (student, tenant) pair guardian accounts are
// scoped with.
func (svc *Service) FindByRegistrationNumber(ctx context.Context, number string) (session.StudentRecord, error) {
	std, err := svc.repo.GetStudentByRegistrationNumber(ctx, core.CleanString(number, true /* lower */))
	if err != nil {
		if errors.Cause(err) == ErrStudentNotFound {
			return session.StudentRecord{}, session.ErrRegistrationNotFound
		}
		return session.StudentRecord{}, errors.Wrap(err, "finding student by registration number")
	}
	return session.StudentRecord{ID: std.ID, TenantID: std.SchoolID}, nil
}

func (svc *Service) CheckRegistrationNumberUniqueness(number string) error {
	_, err := svc.repo.GetStudentByRegistrationNumber(context.Background(), number)
	if err == nil {
		return core.NewValidationError(
			ErrRegistrationExists,
			core.FieldError{Field: "registration_number", Error: ErrRegistrationExists.Error()},
		)
	}
	if errors.Cause(err) == ErrStudentNotFound {
		return nil
	}
	return err
}

func (svc *Service) CreateSchool(ctx context.Context, ns NewSchool) (School, error) {
	now := time.Now().UTC()
	return svc.repo.CreateSchool(ctx, School{
		Name:      ns.Name,
		Address:   ns.Address,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) GetSchool(ctx context.Context, id string) (School, error) {
	return svc.repo.GetSchoolByID(ctx, id)
}

func (svc *Service) QuerySchools(ctx context.Context) ([]School, error) {
	return svc.repo.QuerySchools(ctx)
}

func (svc *Service) UpdateSchool(ctx context.Context, id string, us UpdateSchool) (School, error) {
	return svc.repo.UpdateSchool(ctx, School{
		ID:        id,
		Name:      us.Name,
		Address:   us.Address,
		UpdatedAt: time.Now().UTC(),
	})
}

func (svc *Service) DeleteSchools(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteSchoolsByID(ctx, ids...)
}

func (svc *Service) CreateClass(ctx context.Context, schoolID string, nc NewClass) (Class, error) {
	now := time.Now().UTC()
	return svc.repo.CreateClass(ctx, Class{
		SchoolID:  schoolID,
		Name:      nc.Name,
		TeacherID: nc.TeacherID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *Service) QueryClasses(ctx context.Context, schoolID string, teacherID ...string) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, schoolID, teacherID...)
}

func (svc *Service) CreateStudent(ctx context.Context, schoolID string, ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	return svc.repo.CreateStudent(ctx, Student{
		SchoolID:           schoolID,
		ClassID:            ns.ClassID,
		Name:               ns.Name,
		RegistrationNumber: ns.RegistrationNumber,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func (svc *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudentByID(ctx, id)
}

// GetStudents returns the students matching ids; unknown ids are skipped,
// so a guardian with no linked students gets zero results, not an error.
func (svc *Service) GetStudents(ctx context.Context, ids ...string) ([]Student, error) {
	if len(ids) == 0 {
		return []Student{}, nil
	}
	return svc.repo.GetStudentsByID(ctx, ids...)
}

func (svc *Service) FilterStudents(ctx context.Context, filter StudentFilter, ordering ...core.DBOrdering) ([]Student, error) {
	filter.Clean()
	return svc.repo.FilterStudents(ctx, filter, ordering...)
}

// PublishAnnouncement stores the announcement and emails the school's
// guardians. Delivery is best-effort and concurrent; failures are the mail
// service's to report.
func (svc *Service) PublishAnnouncement(ctx context.Context, schoolID string, na NewAnnouncement) (Announcement, error) {
	ann, err := svc.repo.CreateAnnouncement(ctx, Announcement{
		SchoolID:  schoolID,
		Title:     na.Title,
		Body:      na.Body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Announcement{}, errors.Wrap(err, "creating announcement")
	}

	recipients, err := svc.guardians.ListGuardianEmails(ctx, schoolID)
	if err != nil {
		svc.logger.Error("listing announcement recipients", errors.Wrap(err, "listing guardian emails"))
		return ann, nil
	}
	if len(recipients) > 0 {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			Bcc:     recipients,
			Subject: ann.Title,
			BodyStr: ann.Body,
		})
	}
	return ann, nil
}

func (svc *Service) QueryAnnouncements(ctx context.Context, schoolID string) ([]Announcement, error) {
	return svc.repo.QueryAnnouncements(ctx, schoolID)
}

func (svc *Service) MarkAttendance(ctx context.Context, classID string, ma MarkAttendance) (Attendance, error) {
	return svc.repo.CreateAttendance(ctx, Attendance{
		ClassID:   classID,
		StudentID: ma.StudentID,
		Date:      ma.Date.UTC().Truncate(24 * time.Hour),
		Status:    ma.Status,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *Service) QueryAttendance(ctx context.Context, classID string, date time.Time) ([]Attendance, error) {
	return svc.repo.QueryAttendance(ctx, classID, date.UTC().Truncate(24*time.Hour))
}
