package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

// NewConfig returns a test-mode configuration with a fixed secret.
func NewConfig() *core.Config {
	conf := core.NewConfig("test")
	conf.Debug = false
	conf.TestMode = true
	conf.SecretKey = "s3cr3t-t3st-k3y"
	return conf
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role, tenantID string,
	dependentIDs []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:         name,
		Email:        email,
		Role:         role,
		TenantID:     tenantID,
		DependentIDs: dependentIDs,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func CreateSchool(t *testing.T, repo school.Repository, name, address string) school.School {
	t.Helper()

	now := time.Now().UTC()
	sch, err := repo.CreateSchool(context.Background(), school.School{
		Name:      name,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateSchool(): %v", err)
	}
	return sch
}

func CreateClass(t *testing.T, repo school.Repository, schoolID, name, teacherID string) school.Class {
	t.Helper()

	now := time.Now().UTC()
	cls, err := repo.CreateClass(context.Background(), school.Class{
		SchoolID:  schoolID,
		Name:      name,
		TeacherID: teacherID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateClass(): %v", err)
	}
	return cls
}

func CreateStudent(t *testing.T, repo school.Repository, schoolID, classID, name, regNumber string) school.Student {
	t.Helper()

	now := time.Now().UTC()
	std, err := repo.CreateStudent(context.Background(), school.Student{
		SchoolID:           schoolID,
		ClassID:            classID,
		Name:               name,
		RegistrationNumber: regNumber,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		t.Fatalf("CreateStudent(): %v", err)
	}
	return std
}
