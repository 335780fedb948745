package school

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
)

// userGuardianDirectory resolves a school's announcement recipients from the
// user store: every active guardian account scoped to the tenant.
type userGuardianDirectory struct {
	svc user.ServiceInterface
}

var _ GuardianDirectory = (*userGuardianDirectory)(nil)

func NewUserGuardianDirectory(svc user.ServiceInterface) GuardianDirectory {
	return &userGuardianDirectory{svc: svc}
}

func (d *userGuardianDirectory) ListGuardianEmails(ctx context.Context, tenantID string) ([]mail.Address, error) {
	active := true
	guardians, err := d.svc.Filter(ctx, user.QueryFilter{
		Roles:    []string{string(session.RoleGuardian)},
		TenantID: tenantID,
		IsActive: &active,
	})
	if err != nil {
		return nil, errors.Wrap(err, "filtering guardians")
	}

	addrs := make([]mail.Address, 0, len(guardians))
	for _, g := range guardians {
		addrs = append(addrs, mail.Address{Name: g.Name, Address: g.Email})
	}
	return addrs, nil
}
