package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/session"
)

type dashboardApi struct {
	schoolSvc school.ServiceInterface
}

// registerDashboardAPI wires the four role-partitioned dashboards. The jwt
// middleware is the optional variant: unauthenticated requests get past it so
// the section gate can answer with the login redirect (and the preserved
// deep link) instead of a bare token error.
func registerDashboardAPI(g *echo.Group, jwtOpt echo.MiddlewareFunc, deps ServerDeps) {
	api := dashboardApi{schoolSvc: deps.SchoolSvc}

	g.GET(session.PlatformDashboardPath, api.platform, jwtOpt, sectionGate(session.RolePlatformAdmin))
	g.GET(session.SchoolDashboardPath, api.school, jwtOpt, sectionGate(session.RoleTenantAdmin))
	g.GET(session.TeacherDashboardPath, api.teacher, jwtOpt, sectionGate(session.RoleTeacher))
	g.GET(session.ParentDashboardPath, api.parent, jwtOpt, sectionGate(session.RoleGuardian))
}

func (api *dashboardApi) platform(ctx echo.Context) error {
	schools, err := api.schoolSvc.QuerySchools(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []school.School{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"schools": schools})
}

func (api *dashboardApi) school(ctx echo.Context) error {
	_, sess := contextSession(ctx)
	scope, err := sess.RequireTenant()
	if err != nil {
		return err
	}

	classes, err := api.schoolSvc.QueryClasses(ctx.Request().Context(), scope)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []school.Class{}
	}
	students, err := api.schoolSvc.FilterStudents(ctx.Request().Context(), school.StudentFilter{SchoolID: scope})
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []school.Student{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"classes": classes, "students": students})
}

func (api *dashboardApi) teacher(ctx echo.Context) error {
	_, sess := contextSession(ctx)
	scope, err := sess.RequireTenant()
	if err != nil {
		return err
	}

	classes, err := api.schoolSvc.QueryClasses(ctx.Request().Context(), scope, sess.UserID)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []school.Class{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"classes": classes})
}

// parent returns the guardian's linked students; a guardian with no links
// gets an empty list, not an error.
func (api *dashboardApi) parent(ctx echo.Context) error {
	_, sess := contextSession(ctx)

	students, err := api.schoolSvc.GetStudents(ctx.Request().Context(), sess.Dependents()...)
	if err != nil {
		return errors.Wrap(err, "querying dependents")
	}
	if students == nil {
		students = []school.Student{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"students": students})
}
