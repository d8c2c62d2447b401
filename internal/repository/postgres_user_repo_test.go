package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/lib/pq"
)

// newMockDB はsqlmockを使ったテスト用DBを生成する。
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func assertExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

var userRowColumns = []string{
	"id", "username", "email", "hashed_password", "role", "is_verified",
	"verification_code", "created_at", "updated_at",
}

func TestPostgresUserRepo_FindByID_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(int64(7), "alice", "alice@example.com", "hash", "admin", true, "", now, now))

	user, err := repo.FindByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Username != "alice" || user.Role != model.RoleAdmin || !user.IsVerified {
		t.Errorf("unexpected user: %+v", user)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_FindByUsername_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	user, err := repo.FindByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("FindByUsername error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_FindByEmail_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("a@example.com").
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByEmail(context.Background(), "a@example.com")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_Create_SetsGeneratedFields(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO users .+ RETURNING id, created_at, updated_at`).
		WithArgs("bob", "bob@example.com", "hash", "user", false, "123456").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	user := &model.User{
		Username:         "bob",
		Email:            "bob@example.com",
		HashedPassword:   "hash",
		Role:             model.RoleUser,
		VerificationCode: "123456",
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if user.ID != 42 {
		t.Errorf("user.ID = %d, want 42", user.ID)
	}
	if !user.CreatedAt.Equal(now) {
		t.Errorf("user.CreatedAt = %v, want %v", user.CreatedAt, now)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_Create_UniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

	err := repo.Create(context.Background(), &model.User{Username: "bob", Role: model.RoleUser})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if !IsDuplicateOn(err, "username") || IsDuplicateOn(err, "email") {
		t.Errorf("duplicate column mismatch: %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_Create_DuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &model.User{Username: "bob", Email: "bob@example.com", Role: model.RoleUser})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if !IsDuplicateOn(err, "email") || IsDuplicateOn(err, "username") {
		t.Errorf("duplicate column mismatch: %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_UpdateRole(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(`UPDATE users SET role = \$2`).
		WithArgs(int64(3), "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateRole(context.Background(), 3, model.RoleAdmin); err != nil {
		t.Fatalf("UpdateRole error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_UpdateUsername_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(`UPDATE users SET username = \$2`).
		WithArgs(int64(99), "carol").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateUsername(context.Background(), 99, "carol"); err == nil {
		t.Fatal("expected error for missing user, got nil")
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_MarkVerified_ClearsCode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(`UPDATE users SET is_verified = TRUE, verification_code = NULL`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkVerified(context.Background(), 5); err != nil {
		t.Fatalf("MarkVerified error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresUserRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(`FROM users ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(int64(1), "root", "root@example.com", "h", "superadmin", true, "", now, now).
			AddRow(int64(2), "bob", "bob@example.com", "h", "user", false, "654321", now, now))

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[0].Role != model.RoleSuperadmin || users[1].VerificationCode != "654321" {
		t.Errorf("unexpected users: %+v, %+v", users[0], users[1])
	}
	assertExpectations(t, mock)
}

func TestPostgresUserAvatarRepo_ListByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserAvatarRepo(db)

	mock.ExpectQuery(`FROM user_avatars WHERE user_id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "file_path", "is_main", "is_approved"}).
			AddRow(int64(1), int64(4), "/img/a.png", false, true).
			AddRow(int64(2), int64(4), "/img/b.png", true, true))

	avatars, err := repo.ListByUserID(context.Background(), 4)
	if err != nil {
		t.Fatalf("ListByUserID error: %v", err)
	}
	if len(avatars) != 2 || !avatars[1].IsMain {
		t.Errorf("unexpected avatars: %+v", avatars)
	}
	assertExpectations(t, mock)
}
