package access

import (
	"context"
	"strings"

	domain "github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
)

// Policy answers role questions against the grants persisted in the store.
// Privileged operations consult it explicitly before mutating anything.
type Policy struct {
	store storage.Store
	log   *logger.Logger
}

// New constructs a policy backed by store.
func New(store storage.Store, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.NewDefault("access")
	}
	return &Policy{store: store, log: log}
}

// Bootstrap grants the admin role to each subject. It is idempotent.
func (p *Policy) Bootstrap(ctx context.Context, admins ...string) error {
	return p.store.Update(ctx, func(tx storage.Tx) error {
		for _, subject := range admins {
			subject = strings.TrimSpace(subject)
			if subject == "" {
				continue
			}
			if err := tx.PutRole(ctx, domain.Grant{Subject: subject, Role: domain.RoleAdmin}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Require fails with NotAuthorized unless subject holds role.
func (p *Policy) Require(ctx context.Context, tx storage.Tx, subject string, role domain.Role) error {
	if subject == "" {
		return apperrors.Newf(apperrors.KindNotAuthorized, "anonymous caller lacks %s role", role)
	}
	ok, err := tx.HasRole(ctx, subject, role)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Newf(apperrors.KindNotAuthorized, "%s lacks %s role", subject, role)
	}
	return nil
}

// Grant gives subject a role. The caller must be an admin.
func (p *Policy) Grant(ctx context.Context, caller, subject string, role domain.Role) error {
	err := p.store.Update(ctx, func(tx storage.Tx) error {
		return p.GrantTx(ctx, tx, caller, subject, role)
	})
	if err == nil {
		p.log.WithField("subject", subject).WithField("role", role).Info("role granted")
	}
	return err
}

// GrantTx is Grant inside an existing transaction.
func (p *Policy) GrantTx(ctx context.Context, tx storage.Tx, caller, subject string, role domain.Role) error {
	if err := p.Require(ctx, tx, caller, domain.RoleAdmin); err != nil {
		return err
	}
	if strings.TrimSpace(subject) == "" {
		return apperrors.New(apperrors.KindInvalidConfig, "subject is required")
	}
	return tx.PutRole(ctx, domain.Grant{Subject: subject, Role: role})
}

// Revoke removes a role from subject. The caller must be an admin.
func (p *Policy) Revoke(ctx context.Context, caller, subject string, role domain.Role) error {
	err := p.store.Update(ctx, func(tx storage.Tx) error {
		if err := p.Require(ctx, tx, caller, domain.RoleAdmin); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, domain.Grant{Subject: subject, Role: role})
	})
	if err == nil {
		p.log.WithField("subject", subject).WithField("role", role).Info("role revoked")
	}
	return err
}

// Has reports whether subject holds role.
func (p *Policy) Has(ctx context.Context, subject string, role domain.Role) (bool, error) {
	var ok bool
	err := p.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ok, err = tx.HasRole(ctx, subject, role)
		return err
	})
	return ok, err
}

// Grants lists every grant.
func (p *Policy) Grants(ctx context.Context) ([]domain.Grant, error) {
	var grants []domain.Grant
	err := p.store.View(ctx, func(tx storage.Tx) error {
		var err error
		grants, err = tx.ListRoles(ctx)
		return err
	})
	return grants, err
}
