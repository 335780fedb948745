package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"testing"
	"time"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/session"
	emailsvc "github.com/trezcool/shule/services/email"
	testutil "github.com/trezcool/shule/tests"
)

func Test_schoolApi_schools(t *testing.T) {
	resetDB(t)

	sch1 := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	sch2 := testutil.CreateSchool(t, schoolRepo, "Lualaba Academy", "3 Mine Ave, Kolwezi")

	platform := testutil.CreateUser(t, usrRepo, "Root", "root@test.cd", "", string(session.RolePlatformAdmin), "", nil, true)
	admin1 := testutil.CreateUser(t, usrRepo, "Head One", "head1@test.cd", "", string(session.RoleTenantAdmin), sch1.ID, nil, true)
	teacher1 := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", string(session.RoleTeacher), sch1.ID, nil, true)

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodGet, path: "/v1/schools",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "only the platform admin lists schools", method: http.MethodGet, path: "/v1/schools",
			token: getToken(t, admin1), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "platform admin lists schools", method: http.MethodGet, path: "/v1/schools",
			token: getToken(t, platform), wantCode: http.StatusOK, wantData: marchallList(t, sch1, sch2),
		},
		{
			name: "only the platform admin creates schools", method: http.MethodPost, path: "/v1/schools",
			token: getToken(t, admin1), body: marchallObj(t, school.NewSchool{Name: "Bandal Prep"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "school name is required", method: http.MethodPost, path: "/v1/schools",
			token: getToken(t, platform), body: marchallObj(t, school.NewSchool{}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"name": "this field is required"}),
		},
		{
			name: "tenant admin reads own school", method: http.MethodGet, path: "/v1/schools/" + sch1.ID,
			token: getToken(t, admin1), wantCode: http.StatusOK, wantData: marchallObj(t, sch1),
		},
		{
			name: "another school reads as not found", method: http.MethodGet, path: "/v1/schools/" + sch2.ID,
			token: getToken(t, admin1), wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
		{
			name: "teachers cannot manage the school record", method: http.MethodGet, path: "/v1/schools/" + sch1.ID,
			token: getToken(t, teacher1), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "only the platform admin deletes schools", method: http.MethodDelete, path: "/v1/schools/" + sch1.ID,
			token: getToken(t, admin1), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("platform admin creates a school", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/schools", getToken(t, platform),
			marchallObj(t, school.NewSchool{Name: "Bandal Prep", Address: "8 Kasavubu St, Kinshasa"}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		var sch school.School
		if err := json.Unmarshal(rec.Body.Bytes(), &sch); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if sch.ID == "" || sch.Name != "Bandal Prep" {
			t.Errorf("failed! school = %+v", sch)
		}
	})

	t.Run("tenant admin updates own school", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/schools/"+sch1.ID, getToken(t, admin1),
			marchallObj(t, school.UpdateSchool{Address: "15 Lake Rd, Goma"}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		var sch school.School
		if err := json.Unmarshal(rec.Body.Bytes(), &sch); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		// unset fields keep their value
		if sch.Name != sch1.Name || sch.Address != "15 Lake Rd, Goma" {
			t.Errorf("failed! school = %+v", sch)
		}
	})
}

func Test_schoolApi_classes(t *testing.T) {
	resetDB(t)

	sch1 := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")

	admin1 := testutil.CreateUser(t, usrRepo, "Head One", "head1@test.cd", "", string(session.RoleTenantAdmin), sch1.ID, nil, true)
	teacher1 := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", string(session.RoleTeacher), sch1.ID, nil, true)
	guardian1 := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "", string(session.RoleGuardian), sch1.ID, nil, true)

	cls1 := testutil.CreateClass(t, schoolRepo, sch1.ID, "Grade 5A", teacher1.ID)
	cls2 := testutil.CreateClass(t, schoolRepo, sch1.ID, "Grade 6B", "")

	base := "/v1/schools/" + sch1.ID + "/classes"
	tests := []httpTest{
		{
			name: "guardians cannot list classes", method: http.MethodGet, path: base,
			token: getToken(t, guardian1), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "admin sees every class", method: http.MethodGet, path: base,
			token: getToken(t, admin1), wantCode: http.StatusOK, wantData: marchallList(t, cls1, cls2),
		},
		{
			name: "teacher only sees assigned classes", method: http.MethodGet, path: base,
			token: getToken(t, teacher1), wantCode: http.StatusOK, wantData: marchallList(t, cls1),
		},
		{
			name: "teachers cannot create classes", method: http.MethodPost, path: base,
			token: getToken(t, teacher1), body: marchallObj(t, school.NewClass{Name: "Grade 7C"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "class names allow word characters only", method: http.MethodPost, path: base,
			token: getToken(t, admin1), body: marchallObj(t, school.NewClass{Name: "<Grade 7C!>"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"name": "only letters, digits, spaces and underscores are allowed"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("admin creates a class", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, getToken(t, admin1),
			marchallObj(t, school.NewClass{Name: "Grade 7C", TeacherID: teacher1.ID}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		var cls school.Class
		if err := json.Unmarshal(rec.Body.Bytes(), &cls); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if cls.SchoolID != sch1.ID || cls.TeacherID != teacher1.ID {
			t.Errorf("failed! class = %+v", cls)
		}
	})
}

func Test_schoolApi_students(t *testing.T) {
	resetDB(t)

	sch1 := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	admin1 := testutil.CreateUser(t, usrRepo, "Head One", "head1@test.cd", "", string(session.RoleTenantAdmin), sch1.ID, nil, true)

	cls1 := testutil.CreateClass(t, schoolRepo, sch1.ID, "Grade 5A", "")
	std1 := testutil.CreateStudent(t, schoolRepo, sch1.ID, cls1.ID, "Junior Tre", "kvu-2026-0042")
	std2 := testutil.CreateStudent(t, schoolRepo, sch1.ID, "", "Grace Mwamba", "kvu-2026-0043")

	base := "/v1/schools/" + sch1.ID + "/students"
	adminToken := getToken(t, admin1)

	tests := []httpTest{
		{
			name: "all students", method: http.MethodGet, path: base,
			token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, std1, std2),
		},
		{
			name: "search by name", method: http.MethodGet, path: base + "?search=grace",
			token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, std2),
		},
		{
			name: "filter by class", method: http.MethodGet, path: base + "?class_id=" + cls1.ID,
			token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, std1),
		},
		{
			name: "registration number format enforced", method: http.MethodPost, path: base,
			token: adminToken, body: marchallObj(t, school.NewStudent{Name: "New Kid", RegistrationNumber: "NOT VALID !!"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"registration_number": "invalid registration number"}),
		},
		{
			name: "registration number must be unique", method: http.MethodPost, path: base,
			token: adminToken, body: marchallObj(t, school.NewStudent{Name: "New Kid", RegistrationNumber: "kvu-2026-0042"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"registration_number": "a student with this registration number already exists"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("admin enrolls a student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, adminToken,
			marchallObj(t, school.NewStudent{Name: "New Kid", ClassID: cls1.ID, RegistrationNumber: "kvu-2026-0044"}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		var std school.Student
		if err := json.Unmarshal(rec.Body.Bytes(), &std); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if std.SchoolID != sch1.ID || std.RegistrationNumber != "kvu-2026-0044" {
			t.Errorf("failed! student = %+v", std)
		}
	})
}

func Test_schoolApi_announcements(t *testing.T) {
	resetDB(t)

	sch1 := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	sch2 := testutil.CreateSchool(t, schoolRepo, "Lualaba Academy", "3 Mine Ave, Kolwezi")

	admin1 := testutil.CreateUser(t, usrRepo, "Head One", "head1@test.cd", "", string(session.RoleTenantAdmin), sch1.ID, nil, true)
	guardian1 := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "", string(session.RoleGuardian), sch1.ID, nil, true)
	testutil.CreateUser(t, usrRepo, "Sleeper", "sleeper@test.cd", "", string(session.RoleGuardian), sch1.ID, nil, false) // inactive
	testutil.CreateUser(t, usrRepo, "Far Away", "far@test.cd", "", string(session.RoleGuardian), sch2.ID, nil, true)     // other school

	base := "/v1/schools/" + sch1.ID + "/announcements"

	t.Run("guardians cannot publish", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, getToken(t, guardian1),
			marchallObj(t, school.NewAnnouncement{Title: "Hi", Body: "there"}))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}
		checkCodeAndData(t, tt, rec)
	})

	var published school.Announcement
	t.Run("publish notifies the school's active guardians", func(t *testing.T) {
		emailsvc.ClearSentMessages()

		req, rec := newAuthRequest(http.MethodPost, base, getToken(t, admin1),
			marchallObj(t, school.NewAnnouncement{Title: "PTA Meeting", Body: "This Friday at 17h00."}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &published); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}

		if len(emailsvc.SentMessages) != 1 {
			t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
		}
		msg := emailsvc.SentMessages[0]
		if msg.Subject != "PTA Meeting" {
			t.Errorf("failed! subject = %q", msg.Subject)
		}
		want := []mail.Address{{Name: guardian1.Name, Address: guardian1.Email}}
		if fmt.Sprint(msg.Bcc) != fmt.Sprint(want) {
			t.Errorf("failed! Bcc = %v; want %v", msg.Bcc, want)
		}
		if len(msg.To) != 0 {
			t.Errorf("failed! To = %v; want none", msg.To)
		}
	})

	t.Run("any school member reads announcements", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, base, getToken(t, guardian1))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallList(t, published)}
		checkCodeAndData(t, tt, rec)
	})
}

func Test_schoolApi_attendance(t *testing.T) {
	resetDB(t)

	sch1 := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	teacher1 := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", string(session.RoleTeacher), sch1.ID, nil, true)
	guardian1 := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "", string(session.RoleGuardian), sch1.ID, nil, true)

	cls1 := testutil.CreateClass(t, schoolRepo, sch1.ID, "Grade 5A", teacher1.ID)
	std1 := testutil.CreateStudent(t, schoolRepo, sch1.ID, cls1.ID, "Junior Tre", "kvu-2026-0042")

	base := "/v1/classes/" + cls1.ID + "/attendance"
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	teacherToken := getToken(t, teacher1)

	mark := func(status string) []byte {
		return marchallObj(t, school.MarkAttendance{StudentID: std1.ID, Date: day, Status: status})
	}

	t.Run("guardians cannot mark attendance", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, getToken(t, guardian1), mark(school.AttendancePresent))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("other schools' classes read as not found", func(t *testing.T) {
		sch2 := testutil.CreateSchool(t, schoolRepo, "Ruzizi Academy", "3 River Ave, Bukavu")
		admin1 := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", string(session.RoleTenantAdmin), sch1.ID, nil, true)
		platform := testutil.CreateUser(t, usrRepo, "Root", "root@test.cd", "", string(session.RolePlatformAdmin), "", nil, true)
		cls2 := testutil.CreateClass(t, schoolRepo, sch2.ID, "Grade 3A", "")
		std2 := testutil.CreateStudent(t, schoolRepo, sch2.ID, cls2.ID, "Neighbor Kid", "rzz-2026-0001")
		base2 := "/v1/classes/" + cls2.ID + "/attendance"
		body2 := marchallObj(t, school.MarkAttendance{StudentID: std2.ID, Date: day, Status: school.AttendancePresent})

		for _, token := range []string{teacherToken, getToken(t, admin1)} {
			req, rec := newAuthRequest(http.MethodPost, base2, token, body2)
			app.ServeHTTP(rec, req)
			tt := httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}
			checkCodeAndData(t, tt, rec)

			req, rec = newAuthRequest(http.MethodGet, base2, token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		}

		// nothing was written, and platform admins are exempt from the scope
		req, rec := newAuthRequest(http.MethodGet, base2+"?date="+day.Format("2006-01-02"), getToken(t, platform))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallList(t, []interface{}{}...)}
		checkCodeAndData(t, tt, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/classes/deadbeef/attendance", teacherToken)
		app.ServeHTTP(rec, req)
		tt = httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, teacherToken, mark("vanished"))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"status": "invalid attendance status"})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("marking twice on the same day overwrites", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base, teacherToken, mark(school.AttendanceAbsent))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodPost, base, teacherToken, mark(school.AttendanceLate))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, base+"?date="+day.Format("2006-01-02"), teacherToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
		var atts []school.Attendance
		if err := json.Unmarshal(rec.Body.Bytes(), &atts); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if len(atts) != 1 {
			t.Fatalf("failed! len(atts) = %d; want 1", len(atts))
		}
		if atts[0].Status != school.AttendanceLate || atts[0].StudentID != std1.ID {
			t.Errorf("failed! attendance = %+v", atts[0])
		}
	})

	t.Run("a day with no records reads empty", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, base+"?date=2026-03-03", teacherToken)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallList(t, []interface{}{}...)}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("a malformed date is rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, base+"?date=lol", teacherToken)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "invalid date; expected YYYY-MM-DD"})}
		checkCodeAndData(t, tt, rec)
	})
}
