package inmemdb

import (
	"sync"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user   *userTable
		school *schoolTables
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	schoolTables struct {
		sync.RWMutex
		schools       map[string]*school.School
		classes       map[string]*school.Class
		students      map[string]*school.Student
		announcements map[string]*school.Announcement
		attendance    map[string]*school.Attendance
	}
)

// Reset drops all rows; test use only.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.school.Lock()
	db.school.schools = make(map[string]*school.School)
	db.school.classes = make(map[string]*school.Class)
	db.school.students = make(map[string]*school.Student)
	db.school.announcements = make(map[string]*school.Announcement)
	db.school.attendance = make(map[string]*school.Attendance)
	db.school.Unlock()
}

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		school: &schoolTables{
			schools:       make(map[string]*school.School),
			classes:       make(map[string]*school.Class),
			students:      make(map[string]*school.Student),
			announcements: make(map[string]*school.Announcement),
			attendance:    make(map[string]*school.Attendance),
		},
	}
	return db, nil
}
