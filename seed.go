package idp

import (
	"context"
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SeedPhase orders seed steps. Steps of one phase run in registration order.
type SeedPhase int

const (
	SeedPhaseRoles SeedPhase = iota
	SeedPhaseOrganizations
	SeedPhaseUsers
)

func (p SeedPhase) String() string {
	switch p {
	case SeedPhaseRoles:
		return "roles"
	case SeedPhaseOrganizations:
		return "organizations"
	case SeedPhaseUsers:
		return "users"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// SeedState carries ids created by earlier steps.
type SeedState struct {
	Roles         map[string]uuid.UUID
	Organizations map[string]*Organization
}

// SeedStep is one unit of seed data.
type SeedStep struct {
	Name  string
	Phase SeedPhase
	Run   func(ctx context.Context, tx bun.Tx, repo RepositoryManager, state *SeedState) error
}

// Seeder runs a fixed list of steps in a single transaction.
type Seeder struct {
	repo     RepositoryManager
	steps    []SeedStep
	logger   Logger
	provider LoggerProvider
}

// NewSeeder orders steps by phase. The list cannot change afterwards.
func NewSeeder(repo RepositoryManager, steps ...SeedStep) *Seeder {
	provider, logger := ResolveLogger("idp.seed", nil, nil)
	ordered := slices.Clone(steps)
	slices.SortStableFunc(ordered, func(a, b SeedStep) int {
		return int(a.Phase) - int(b.Phase)
	})
	return &Seeder{repo: repo, steps: ordered, logger: logger, provider: provider}
}

func (s *Seeder) WithLogger(logger Logger) *Seeder {
	s.provider, s.logger = ResolveLogger("idp.seed", s.provider, logger)
	return s
}

// Steps returns a copy of the ordered steps.
func (s *Seeder) Steps() []SeedStep {
	return slices.Clone(s.steps)
}

// Run executes every step. The first failure rolls the whole seed back.
func (s *Seeder) Run(ctx context.Context) error {
	state := &SeedState{
		Roles:         map[string]uuid.UUID{},
		Organizations: map[string]*Organization{},
	}

	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, step := range s.steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if step.Run == nil {
				continue
			}
			if err := step.Run(ctx, tx, s.repo, state); err != nil {
				s.logger.Error("seed step failed", "step", step.Name, "phase", step.Phase.String(), "error", err)
				return goerrors.Wrap(err, goerrors.CategoryInternal, "seed step failed").
					WithMetadata(map[string]any{"step": step.Name, "phase": step.Phase.String()})
			}
			s.logger.Debug("seed step applied", "step", step.Name, "phase", step.Phase.String())
		}
		return nil
	})
}

// SeedData is the declarative seed document.
type SeedData struct {
	Roles         []SeedRole         `json:"roles"`
	Organizations []SeedOrganization `json:"organizations"`
	Users         []SeedUser         `json:"users"`
}

type SeedRole struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type SeedOrganization struct {
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name"`
	TenantID    uuid.UUID `json:"tenant_id"`
}

type SeedUser struct {
	Email         string   `json:"email"`
	Username      string   `json:"username"`
	DisplayName   string   `json:"display_name"`
	Password      string   `json:"password"`
	Roles         []string `json:"roles"`
	Organizations []string `json:"organizations"`
	// OrganizationRoles maps an organization slug to the role names scoped to it.
	OrganizationRoles map[string][]string `json:"organization_roles"`
}

func (d SeedData) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Roles, validation.By(func(any) error {
			for _, r := range d.Roles {
				if strings.TrimSpace(r.Name) == "" {
					return fmt.Errorf("role name is required")
				}
			}
			return nil
		})),
		validation.Field(&d.Organizations, validation.By(func(any) error {
			for _, o := range d.Organizations {
				if strings.TrimSpace(o.Slug) == "" {
					return fmt.Errorf("organization slug is required")
				}
			}
			return nil
		})),
		validation.Field(&d.Users, validation.By(func(any) error {
			for _, u := range d.Users {
				if err := validation.Validate(u.Email, validation.Required, is.Email); err != nil {
					return fmt.Errorf("user %q: %w", u.Email, err)
				}
				if err := validation.Validate(u.Password, validation.Required); err != nil {
					return fmt.Errorf("user %q: password %w", u.Email, err)
				}
			}
			return nil
		})),
	)
}

// Steps turns the document into seed steps.
func (d SeedData) Steps() []SeedStep {
	steps := make([]SeedStep, 0, len(d.Roles)+len(d.Organizations)+len(d.Users))

	for _, r := range d.Roles {
		steps = append(steps, SeedStep{
			Name:  "role:" + r.Name,
			Phase: SeedPhaseRoles,
			Run: func(ctx context.Context, tx bun.Tx, repo RepositoryManager, state *SeedState) error {
				role, err := repo.Roles().GetByNameTx(ctx, tx, r.Name)
				switch {
				case err == nil:
				case isNotFound(err):
					role, err = repo.Roles().CreateTx(ctx, tx, &Role{Name: r.Name, Description: r.Description}, r.Permissions...)
					if err != nil {
						return err
					}
				default:
					return err
				}
				state.Roles[role.Name] = role.ID
				return nil
			},
		})
	}

	for _, o := range d.Organizations {
		steps = append(steps, SeedStep{
			Name:  "organization:" + o.Slug,
			Phase: SeedPhaseOrganizations,
			Run: func(ctx context.Context, tx bun.Tx, repo RepositoryManager, state *SeedState) error {
				org, err := repo.Organizations().GetBySlugTx(ctx, tx, o.Slug)
				if err == nil {
					state.Organizations[org.Slug] = org
					return nil
				}
				if !isNotFound(err) {
					return err
				}

				tenant := o.TenantID
				if tenant == uuid.Nil {
					tenant = uuid.New()
				}
				org, err = repo.Organizations().CreateTx(ctx, tx, &Organization{
					Slug:        o.Slug,
					DisplayName: o.DisplayName,
					TenantID:    tenant,
				})
				if err != nil {
					return err
				}
				state.Organizations[org.Slug] = org
				return nil
			},
		})
	}

	for _, u := range d.Users {
		steps = append(steps, SeedStep{
			Name:  "user:" + u.Email,
			Phase: SeedPhaseUsers,
			Run: func(ctx context.Context, tx bun.Tx, repo RepositoryManager, state *SeedState) error {
				return seedUser(ctx, tx, repo, state, u)
			},
		})
	}

	return steps
}

// seedUser creates u with its roles and memberships. An existing account is
// left untouched.
func seedUser(ctx context.Context, tx bun.Tx, repo RepositoryManager, state *SeedState, u SeedUser) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, err := repo.Users().GetByEmailOrUsernameTx(ctx, tx, email); err == nil {
		return nil
	} else if !isNotFound(err) {
		return err
	}

	hash, err := HashPassword(u.Password)
	if err != nil {
		return err
	}

	user, err := repo.Users().CreateTx(ctx, tx, &User{
		Email:          email,
		Username:       getUsername(u.Username, email),
		DisplayName:    u.DisplayName,
		PasswordHash:   hash,
		EmailConfirmed: true,
	})
	if err != nil {
		return err
	}

	for _, name := range u.Roles {
		roleID, ok := state.Roles[name]
		if !ok {
			return fmt.Errorf("unknown role %q", name)
		}
		if err := repo.Roles().AssignTx(ctx, tx, user.ID, roleID, nil); err != nil {
			return err
		}
	}

	for i, slug := range u.Organizations {
		org, ok := state.Organizations[slug]
		if !ok {
			return fmt.Errorf("unknown organization %q", slug)
		}
		if _, err := repo.Memberships().CreateTx(ctx, tx, &Membership{
			OrganizationID: org.ID,
			UserID:         user.ID,
			TenantID:       org.TenantID,
			IsPrimary:      i == 0,
		}); err != nil {
			return err
		}

		for _, name := range u.OrganizationRoles[slug] {
			roleID, ok := state.Roles[name]
			if !ok {
				return fmt.Errorf("unknown role %q", name)
			}
			orgID := org.ID
			if err := repo.Roles().AssignTx(ctx, tx, user.ID, roleID, &orgID); err != nil {
				return err
			}
		}
	}

	return nil
}
