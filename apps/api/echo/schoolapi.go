package echoapi

import (
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/session"
)

type schoolApi struct {
	svc        school.ServiceInterface
	validate   *validator.Validate
	translator ut.Translator
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := schoolApi{
		svc:        deps.SchoolSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	platformOnly := requireRoles(session.RolePlatformAdmin)
	admins := requireRoles(session.RolePlatformAdmin, session.RoleTenantAdmin)
	staff := requireRoles(session.RolePlatformAdmin, session.RoleTenantAdmin, session.RoleTeacher)

	sg := g.Group("/schools", jwt)
	sg.POST("", api.create, platformOnly)
	sg.GET("", api.query, platformOnly)
	sg.DELETE("", api.destroyMultiple, platformOnly)

	dg := sg.Group("/:id", tenantScopeMiddleware())
	dg.GET("", api.retrieve, admins)
	dg.PUT("", api.update, admins)
	dg.DELETE("", api.destroy, platformOnly)

	dg.POST("/classes", api.createClass, admins)
	dg.GET("/classes", api.queryClasses, staff)

	dg.POST("/students", api.createStudent, admins)
	dg.GET("/students", api.queryStudents, staff)

	dg.POST("/announcements", api.publishAnnouncement, admins)
	dg.GET("/announcements", api.queryAnnouncements)

	cg := g.Group("/classes/:id", jwt, staff, api.classScopeMiddleware())
	cg.POST("/attendance", api.markAttendance)
	cg.GET("/attendance", api.queryAttendance)
}

// classScopeMiddleware loads the class under :id and confines non-platform
// users to classes of their own school; like tenantScopeMiddleware, other
// schools read as not found, never as forbidden.
func (api *schoolApi) classScopeMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			_, sess := contextSession(ctx)
			if !sess.Authenticated() {
				return errUnauthorized
			}

			cls, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == school.ErrClassNotFound {
					return errHTTPNotFound
				}
				return errors.Wrap(err, "getting class")
			}
			if sess.Role != session.RolePlatformAdmin {
				scope, err := sess.RequireTenant()
				if err != nil {
					return err
				}
				if cls.SchoolID != scope {
					return errHTTPNotFound
				}
			}
			return next(ctx)
		}
	}
}

// tenantScopeMiddleware confines non-platform users to their own school's
// subtree; other schools read as not found, never as forbidden.
func tenantScopeMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			_, sess := contextSession(ctx)
			if !sess.Authenticated() {
				return errUnauthorized
			}
			if sess.Role == session.RolePlatformAdmin {
				return next(ctx)
			}
			scope, err := sess.RequireTenant()
			if err != nil {
				return err
			}
			if ctx.Param("id") != scope {
				return errHTTPNotFound
			}
			return next(ctx)
		}
	}
}

// Handlers

func (api *schoolApi) create(ctx echo.Context) error {
	var data school.NewSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchool")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sch, err := api.svc.CreateSchool(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating school")
	}
	return ctx.JSON(http.StatusCreated, sch)
}

func (api *schoolApi) query(ctx echo.Context) error {
	schools, err := api.svc.QuerySchools(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []school.School{}
	}
	return ctx.JSON(http.StatusOK, schools)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	sch, err := api.svc.GetSchool(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == school.ErrSchoolNotFound {
			return errHTTPNotFound
		}
		return errors.Wrap(err, "getting school")
	}
	return ctx.JSON(http.StatusOK, sch)
}

func (api *schoolApi) update(ctx echo.Context) error {
	var data school.UpdateSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSchool")
	}

	orig, err := api.svc.GetSchool(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == school.ErrSchoolNotFound {
			return errHTTPNotFound
		}
		return errors.Wrap(err, "getting school")
	}
	if err = data.Validate(api.validate, orig); err != nil {
		return err
	}

	sch, err := api.svc.UpdateSchool(ctx.Request().Context(), orig.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating school")
	}
	return ctx.JSON(http.StatusOK, sch)
}

func (api *schoolApi) destroy(ctx echo.Context) error {
	if err := api.svc.DeleteSchools(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting school")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err := api.svc.DeleteSchools(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting schools")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) createClass(ctx echo.Context) error {
	var data school.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *schoolApi) queryClasses(ctx echo.Context) error {
	// teachers only see the classes assigned to them
	var teacherID []string
	_, sess := contextSession(ctx)
	if sess.Role == session.RoleTeacher {
		teacherID = append(teacherID, sess.UserID)
	}

	classes, err := api.svc.QueryClasses(ctx.Request().Context(), ctx.Param("id"), teacherID...)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []school.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *schoolApi) createStudent(ctx echo.Context) error {
	var data school.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	std, err := api.svc.CreateStudent(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, std)
}

func (api *schoolApi) queryStudents(ctx echo.Context) error {
	filter := new(school.StudentFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []school.Student{})
	}
	filter.Clean()
	filter.SchoolID = ctx.Param("id")
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.svc.FilterStudents(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []school.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *schoolApi) publishAnnouncement(ctx echo.Context) error {
	var data school.NewAnnouncement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnouncement")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ann, err := api.svc.PublishAnnouncement(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "publishing announcement")
	}
	return ctx.JSON(http.StatusCreated, ann)
}

func (api *schoolApi) queryAnnouncements(ctx echo.Context) error {
	anns, err := api.svc.QueryAnnouncements(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying announcements")
	}
	if anns == nil {
		anns = []school.Announcement{}
	}
	return ctx.JSON(http.StatusOK, anns)
}

func (api *schoolApi) markAttendance(ctx echo.Context) error {
	var data school.MarkAttendance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkAttendance")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	att, err := api.svc.MarkAttendance(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *schoolApi) queryAttendance(ctx echo.Context) error {
	date := time.Now().UTC()
	if d := ctx.QueryParam("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date; expected YYYY-MM-DD")
		}
		date = parsed
	}

	atts, err := api.svc.QueryAttendance(ctx.Request().Context(), ctx.Param("id"), date)
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	if atts == nil {
		atts = []school.Attendance{}
	}
	return ctx.JSON(http.StatusOK, atts)
}
