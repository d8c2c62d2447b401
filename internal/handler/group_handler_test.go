package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/contactbook/internal/model"
)

// --- モック定義 ---

// mockGroupService はGroupServiceInterfaceのモック実装。
type mockGroupService struct {
	listFn   func(ctx context.Context) ([]groupResponse, error)
	createFn func(ctx context.Context, actor *model.Identity, name string) (*groupResponse, error)
	deleteFn func(ctx context.Context, actor *model.Identity, id int64) error
}

func (m *mockGroupService) List(ctx context.Context) ([]groupResponse, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []groupResponse{}, nil
}

func (m *mockGroupService) Create(ctx context.Context, actor *model.Identity, name string) (*groupResponse, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, name)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGroupService) Delete(ctx context.Context, actor *model.Identity, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, id)
	}
	return nil
}

// --- テスト ---

func TestGroupHandler_List(t *testing.T) {
	svc := &mockGroupService{
		listFn: func(ctx context.Context) ([]groupResponse, error) {
			return []groupResponse{{ID: 1, Name: "family"}, {ID: 2, Name: "work"}}, nil
		},
	}
	h := NewGroupHandler(svc)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/groups", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []groupResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "family" {
		t.Errorf("unexpected groups: %+v", got)
	}
}

func TestGroupHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"作成成功は201", `{"name":"family"}`, nil, http.StatusCreated},
		{"不正なJSONは400", `{"name":`, nil, http.StatusBadRequest},
		{"名前重複は409", `{"name":"family"}`, model.NewGroupNameTakenError(), http.StatusConflict},
		{"空の名前は400", `{"name":""}`, model.NewInvalidInputError("name", "グループ名は必須です"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockGroupService{
				createFn: func(ctx context.Context, actor *model.Identity, name string) (*groupResponse, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &groupResponse{ID: 1, Name: name}, nil
				},
			}
			h := NewGroupHandler(svc)

			req := withIdentity(httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(tt.body)), testUser)
			w := httptest.NewRecorder()
			h.Create(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestGroupHandler_Delete(t *testing.T) {
	tests := []struct {
		name       string
		actor      *model.Identity
		err        error
		wantStatus int
	}{
		{"adminは削除できる", testAdmin, nil, http.StatusNoContent},
		{"userは403", testUser, model.NewForbiddenError("グループの削除にはadmin以上の権限が必要です"), http.StatusForbidden},
		{"存在しなければ404", testAdmin, model.NewGroupNotFoundError(9), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockGroupService{
				deleteFn: func(ctx context.Context, actor *model.Identity, id int64) error {
					if id != 9 {
						t.Errorf("id = %d, want 9", id)
					}
					return tt.err
				},
			}
			h := NewGroupHandler(svc)

			req := withURLParam(withIdentity(httptest.NewRequest(http.MethodDelete, "/groups/9", nil), tt.actor), "id", "9")
			w := httptest.NewRecorder()
			h.Delete(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
