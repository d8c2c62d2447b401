package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/lib/pq"
)

var contactRowColumns = []string{
	"id", "user_id", "first_name", "last_name", "email", "birthday", "extra_info", "created_at", "updated_at",
}

// expectRelations は関連データ読み込みの4クエリを期待する。
func expectRelations(mock sqlmock.Sqlmock, phones, groups *sqlmock.Rows) {
	if phones == nil {
		phones = sqlmock.NewRows([]string{"id", "contact_id", "number", "label"})
	}
	if groups == nil {
		groups = sqlmock.NewRows([]string{"contact_id", "id", "name"})
	}
	mock.ExpectQuery(`FROM phone_numbers WHERE contact_id = ANY\(\$1\)`).WillReturnRows(phones)
	mock.ExpectQuery(`FROM contact_group cg JOIN groups g`).WillReturnRows(groups)
	mock.ExpectQuery(`FROM avatars WHERE contact_id = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "contact_id", "file_path", "is_main", "show"}))
	mock.ExpectQuery(`FROM photos WHERE contact_id = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "contact_id", "file_path", "is_main", "show"}))
}

func TestPostgresContactRepo_FindByID_LoadsRelations(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)
	birthday := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(contactRowColumns).
			AddRow(int64(10), int64(5), "Ann", "Lee", "ann@example.com", birthday, "", now, now))
	expectRelations(mock,
		sqlmock.NewRows([]string{"id", "contact_id", "number", "label"}).
			AddRow(int64(1), int64(10), "+1 (555) 123", "mobile"),
		sqlmock.NewRows([]string{"contact_id", "id", "name"}).
			AddRow(int64(10), int64(3), "family"),
	)

	contact, err := repo.FindByID(context.Background(), 10)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if contact.UserID != 5 || !contact.Birthday.Equal(birthday) {
		t.Errorf("unexpected contact: %+v", contact)
	}
	if len(contact.PhoneNumbers) != 1 || contact.PhoneNumbers[0].Label != "mobile" {
		t.Errorf("unexpected phone numbers: %+v", contact.PhoneNumbers)
	}
	if len(contact.Groups) != 1 || contact.Groups[0].Name != "family" {
		t.Errorf("unexpected groups: %+v", contact.Groups)
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(contactRowColumns))

	contact, err := repo.FindByID(context.Background(), 404)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if contact != nil {
		t.Errorf("expected nil, got %+v", contact)
	}
	assertExpectations(t, mock)
}

// 所有者スコープでは所有者IDのみが条件に渡る
func TestPostgresContactRepo_List_OwnerScope(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)
	now := time.Now()

	mock.ExpectQuery(`WHERE \(\$1 OR user_id = \$2\) .+ ORDER BY first_name ASC, id ASC LIMIT NULLIF\(\$4, 0\) OFFSET \$5`).
		WithArgs(false, int64(5), "", int64(100), int64(0)).
		WillReturnRows(sqlmock.NewRows(contactRowColumns).
			AddRow(int64(1), int64(5), "Ann", "", "ann@example.com", now, "", now, now).
			AddRow(int64(2), int64(5), "Bob", "", "bob@example.com", now, "", now, now))
	expectRelations(mock, nil, nil)

	contacts, err := repo.List(context.Background(), model.OwnedBy(5), model.ContactQuery{Limit: 100})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}
	for _, c := range contacts {
		if c.UserID != 5 {
			t.Errorf("contact %d owner = %d, want 5", c.ID, c.UserID)
		}
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_List_SearchDescending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectQuery(`ORDER BY first_name DESC, id DESC`).
		WithArgs(true, int64(0), "%an%", int64(0), int64(20)).
		WillReturnRows(sqlmock.NewRows(contactRowColumns))

	contacts, err := repo.List(context.Background(), model.AllContacts(), model.ContactQuery{
		Search: " an ",
		Sort:   model.SortDesc,
		Skip:   20,
	})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("len(contacts) = %d, want 0", len(contacts))
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_ListByBirthday_PassesWindow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectQuery(`FROM contacts WHERE \(\$1 OR user_id = \$2\) AND CASE WHEN`).
		WithArgs(false, int64(8), 1228, 104).
		WillReturnRows(sqlmock.NewRows(contactRowColumns))

	if _, err := repo.ListByBirthday(context.Background(), model.OwnedBy(8), 1228, 104); err != nil {
		t.Fatalf("ListByBirthday error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_Create_InsertsPhonesAndGroups(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)
	birthday := time.Date(1985, 12, 31, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO contacts`).
		WithArgs(int64(5), "Ann", "Lee", "ann@example.com", birthday, "note").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))
	mock.ExpectQuery(`INSERT INTO phone_numbers`).
		WithArgs(int64(11), "+1 555", "home").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectExec(`INSERT INTO contact_group`).
		WithArgs(int64(11), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	contact := &model.Contact{
		UserID:       5,
		FirstName:    "Ann",
		LastName:     "Lee",
		Email:        "ann@example.com",
		Birthday:     birthday,
		ExtraInfo:    "note",
		PhoneNumbers: []model.PhoneNumber{{Number: "+1 555", Label: "home"}},
	}
	if err := repo.Create(context.Background(), contact, []int64{3}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if contact.ID != 11 || contact.PhoneNumbers[0].ID != 21 || contact.PhoneNumbers[0].ContactID != 11 {
		t.Errorf("generated ids not set: %+v", contact)
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_Create_DuplicateEmailRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO contacts`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "contacts_email_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.Contact{UserID: 5, FirstName: "Ann", Email: "dup@example.com"}, nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_Update_ReplacesPhonesOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE contacts SET first_name = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec(`DELETE FROM phone_numbers WHERE contact_id = \$1`).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`INSERT INTO phone_numbers`).
		WithArgs(int64(11), "12345", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(30)))
	mock.ExpectCommit()

	contact := &model.Contact{
		ID:           11,
		UserID:       5,
		FirstName:    "Ann",
		Email:        "ann@example.com",
		PhoneNumbers: []model.PhoneNumber{{Number: "12345"}},
	}
	if err := repo.Update(context.Background(), contact, ContactUpdate{ReplacePhones: true}); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	assertExpectations(t, mock)
}

// 単一削除は子テーブルを先に削除してから連絡先を削除する
func TestPostgresContactRepo_Delete_RemovesChildrenFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectBegin()
	for _, table := range []string{"phone_numbers", "avatars", "photos", "contact_group"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE contact_id = \$1`).
			WithArgs(int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`DELETE FROM contacts WHERE id = \$1`).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := repo.Delete(context.Background(), 11)
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if !deleted {
		t.Error("deleted = false, want true")
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_Delete_ChildFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM phone_numbers`).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	if _, err := repo.Delete(context.Background(), 11); err == nil {
		t.Fatal("expected error, got nil")
	}
	assertExpectations(t, mock)
}

func TestPostgresContactRepo_DeleteByScope_Owner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresContactRepo(db)

	mock.ExpectBegin()
	for _, table := range []string{"phone_numbers", "avatars", "photos", "contact_group"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE contact_id IN \(SELECT id FROM contacts`).
			WithArgs(false, int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`DELETE FROM contacts WHERE \(\$1 OR user_id = \$2\)`).
		WithArgs(false, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := repo.DeleteByScope(context.Background(), model.OwnedBy(5))
	if err != nil {
		t.Fatalf("DeleteByScope error: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	assertExpectations(t, mock)
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"ann", "%ann%"},
		{"50%_off", `%50\%\_off%`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.in); got != tt.want {
			t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
