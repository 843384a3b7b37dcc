package services

import (
	"context"
	"fmt"
	"time"

	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/auth"
	"budget/internal/core"
	"budget/internal/storage"
)

// RegisterInput is a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type UserService struct {
	users  *storage.UserRepo
	hasher *auth.PasswordHasher
	audit  *audit.Logger
	now    func() time.Time
}

func NewUserService(db *storage.DB, hasher *auth.PasswordHasher, auditLog *audit.Logger) *UserService {
	return &UserService{
		users:  db.Repos().Users,
		hasher: hasher,
		audit:  auditLog,
		now:    time.Now,
	}
}

// Register creates an account with a hashed password.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (u core.User, err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "register", Operation: audit.OpInsert, Entity: "users", EntityID: u.ID,
			Args: []any{"email", audit.MaskEmail(in.Email)},
		}, start, err)
	}()

	exists, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return core.User{}, err
	}
	if exists {
		return core.User{}, apperr.New(apperr.UserEmailExists)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return core.User{}, err
	}
	u, err = s.users.Create(ctx, core.User{Email: in.Email, PasswordHash: hash, Name: in.Name})
	if storage.IsUniqueViolation(err) {
		return core.User{}, apperr.Wrap(apperr.UserEmailExists, err)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Me returns the caller's account.
func (s *UserService) Me(ctx context.Context, userID int64) (core.User, error) {
	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		return core.User{}, notFoundAs(err, apperr.UserNotFound)
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
// Setting the same password again changes nothing.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, current, next string) (err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "change password", Operation: audit.OpUpdate, Entity: "users", EntityID: userID, UserID: userID,
			Args: []any{"password", audit.MaskPassword(next)},
		}, start, err)
	}()

	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		return notFoundAs(err, apperr.UserNotFound)
	}
	ok, err := s.hasher.Matches(u.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.InvalidCurrentPassword)
	}
	if current == next {
		return nil
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return notFoundAs(s.users.UpdatePassword(ctx, userID, hash), apperr.UserNotFound)
}

// Delete soft-deletes the account. It can be restored with CancelDeletion.
func (s *UserService) Delete(ctx context.Context, userID int64) (err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "delete user", Operation: audit.OpDelete, Entity: "users", EntityID: userID, UserID: userID,
		}, start, err)
	}()

	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		return notFoundAs(err, apperr.UserNotFound)
	}
	if u.IsDeleted() {
		return apperr.New(apperr.UserAlreadyDeleted)
	}
	if err := s.users.SoftDelete(ctx, userID, s.now()); err != nil {
		return notFoundAs(err, apperr.UserAlreadyDeleted)
	}
	return nil
}

// CancelDeletion restores a soft-deleted account identified by email and name.
func (s *UserService) CancelDeletion(ctx context.Context, email, name string) (err error) {
	start := time.Now()
	var id int64
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "cancel deletion", Operation: audit.OpUpdate, Entity: "users", EntityID: id,
			Args: []any{"email", audit.MaskEmail(email)},
		}, start, err)
	}()

	u, err := s.users.DeletedByNameAndEmail(ctx, name, email)
	if err != nil {
		return notFoundAs(err, apperr.UserNotFound)
	}
	id = u.ID
	return notFoundAs(s.users.Restore(ctx, u.ID, u.PasswordHash), apperr.UserNotFound)
}
