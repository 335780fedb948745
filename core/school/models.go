package school

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

// School is a tenant: one school instance scoping admins, teachers,
// classes and students.
type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type Class struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"school_id"`
	Name      string    `json:"name"`
	TeacherID string    `json:"teacher_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Student struct {
	ID                 string    `json:"id"`
	SchoolID           string    `json:"school_id"`
	ClassID            string    `json:"class_id,omitempty"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registration_number"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Announcement struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"school_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Attendance statuses
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
)

type Attendance struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	StudentID string    `json:"student_id"`
	Date      time.Time `json:"date"` // UTC, truncated to day
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// inputs

type NewSchool struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address"`
}

func (ns *NewSchool) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Address = core.CleanString(ns.Address)
	return validate.Struct(ns)
}

type UpdateSchool struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (us *UpdateSchool) Validate(validate *validator.Validate, orig School) error {
	if name := core.CleanString(us.Name); name != "" {
		us.Name = name
	} else {
		us.Name = orig.Name
	}
	if addr := core.CleanString(us.Address); addr != "" {
		us.Address = addr
	} else {
		us.Address = orig.Address
	}
	return validate.Struct(us)
}

type NewClass struct {
	Name      string `json:"name" validate:"required,alphanum_"`
	TeacherID string `json:"teacher_id"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

type NewStudent struct {
	Name               string `json:"name" validate:"required"`
	ClassID            string `json:"class_id"`
	RegistrationNumber string `json:"registration_number" validate:"required,regnum"`
}

func (ns *NewStudent) Validate(validate *validator.Validate, svc ServiceInterface) error {
	ns.Name = core.CleanString(ns.Name)
	ns.RegistrationNumber = core.CleanString(ns.RegistrationNumber, true /* lower */)
	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckRegistrationNumberUniqueness(ns.RegistrationNumber)
}

type NewAnnouncement struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body" validate:"required"`
}

func (na *NewAnnouncement) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Body = core.CleanString(na.Body)
	return validate.Struct(na)
}

type MarkAttendance struct {
	StudentID string    `json:"student_id" validate:"required"`
	Date      time.Time `json:"date" validate:"required"`
	Status    string    `json:"status" validate:"required,attstatus"`
}

func (ma *MarkAttendance) Validate(validate *validator.Validate) error {
	ma.Status = core.CleanString(ma.Status, true /* lower */)
	return validate.Struct(ma)
}

type StudentFilter struct {
	Search   string `query:"search"`
	SchoolID string `query:"school_id"`
	ClassID  string `query:"class_id"`
}

func (sf *StudentFilter) Clean() {
	sf.Search = core.CleanString(sf.Search)
}
