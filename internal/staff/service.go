// Package staff authenticates the people operating the bookstore. Staff
// records live in the users collection alongside the catalog; sessions
// are stateless signed tokens carried by the presentation layer.
package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookstand/pkg/docstore"
)

// Collection is the remote collection holding staff records.
const Collection = "users"

// Roles. Admins may delete books and trigger manual cleanup; volunteers
// may do everything else.
const (
	RoleAdmin     = "admin"
	RoleVolunteer = "volunteer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many login attempts")
)

// Member is one staff record.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Service registers and authenticates staff.
type Service struct {
	store   docstore.Store
	limiter *rate.Limiter
	signer  *tokenSigner
}

// NewService creates the staff service. secret signs session tokens.
func NewService(store docstore.Store, secret []byte, tokenTTL time.Duration) *Service {
	return &Service{
		store:   store,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 5),
		signer:  newTokenSigner(secret, tokenTTL),
	}
}

// Register creates a staff record with hashed credentials.
func (s *Service) Register(ctx context.Context, name, email, role, password string) (Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Member{}, errors.New("email is required")
	}
	if role != RoleAdmin && role != RoleVolunteer {
		return Member{}, fmt.Errorf("unknown role %q", role)
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return Member{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.Create(ctx, Collection, map[string]any{
		"name":          name,
		"email":         email,
		"role":          role,
		"password_hash": hash,
		"salt":          salt,
	})
	if err != nil {
		return Member{}, fmt.Errorf("create staff record: %w", err)
	}
	return Member{ID: id, Name: name, Email: email, Role: role}, nil
}

// Authenticate verifies credentials and returns the member plus a signed
// session token. Attempts are rate limited to slow down guessing.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Member, string, error) {
	if !s.limiter.Allow() {
		return Member{}, "", ErrRateLimited
	}

	email = strings.ToLower(strings.TrimSpace(email))
	doc, ok, err := s.findByEmail(ctx, email)
	if err != nil {
		return Member{}, "", err
	}
	if !ok {
		return Member{}, "", ErrInvalidCredentials
	}

	valid, err := verifyPassword(password, doc.String("salt"), doc.String("password_hash"))
	if err != nil || !valid {
		return Member{}, "", ErrInvalidCredentials
	}

	member := Member{
		ID:    doc.ID,
		Name:  doc.String("name"),
		Email: doc.String("email"),
		Role:  doc.String("role"),
	}
	token, err := s.signer.sign(member)
	if err != nil {
		return Member{}, "", fmt.Errorf("sign session token: %w", err)
	}
	return member, token, nil
}

// Verify validates a session token and returns the member it names.
func (s *Service) Verify(token string) (Member, error) {
	return s.signer.verify(token)
}

func (s *Service) findByEmail(ctx context.Context, email string) (docstore.Document, bool, error) {
	res, err := s.store.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("list staff: %w", err)
	}
	for _, d := range res.Documents {
		if strings.EqualFold(d.String("email"), email) {
			return d, true, nil
		}
	}
	return docstore.Document{}, false, nil
}
