package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, contact, system
	Action   string // ユーザー向け対処方法
	Field    string // バリデーションエラーの対象フィールド（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated         = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeContactNotFound         = "CONTACT_NOT_FOUND"
	ErrCodeGroupNotFound           = "GROUP_NOT_FOUND"
	ErrCodeUsernameTaken           = "USERNAME_TAKEN"
	ErrCodeEmailTaken              = "EMAIL_TAKEN"
	ErrCodeContactEmailTaken       = "CONTACT_EMAIL_TAKEN"
	ErrCodeGroupNameTaken          = "GROUP_NAME_TAKEN"
	ErrCodeInvalidVerificationCode = "INVALID_VERIFICATION_CODE"
)

// NewUnauthenticatedError は未認証エラーを生成する。
// トークンの欠落・不正・期限切れを区別せず同じエラーを返す。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証情報を確認できませんでした。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はユーザー名またはパスワードの誤りを表すエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。reasonは利用者向けの理由。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("権限が不足しています: %s", reason),
		Category: "auth",
		Action:   "必要な権限を持つユーザーで操作してください。",
	}
}

// NewInvalidInputError は入力値のバリデーションエラーを生成する。
func NewInvalidInputError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewContactNotFoundError は連絡先が見つからない場合のエラーを生成する。
func NewContactNotFoundError(contactID int64) *APIError {
	return &APIError{
		Code:     ErrCodeContactNotFound,
		Message:  fmt.Sprintf("指定された連絡先が見つかりません: %d", contactID),
		Category: "contact",
		Action:   "連絡先IDを確認してください。",
	}
}

// NewGroupNotFoundError はグループが見つからない場合のエラーを生成する。
func NewGroupNotFoundError(groupID int64) *APIError {
	return &APIError{
		Code:     ErrCodeGroupNotFound,
		Message:  fmt.Sprintf("指定されたグループが見つかりません: %d", groupID),
		Category: "contact",
		Action:   "グループIDを確認してください。",
	}
}

// NewUsernameTakenError はユーザー名が既に使われている場合のエラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
		Field:    "username",
	}
}

// NewEmailTakenError はメールアドレスが既に登録されている場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを指定するか、ログインしてください。",
		Field:    "email",
	}
}

// NewContactEmailTakenError は同じメールアドレスの連絡先が既に存在する場合のエラーを生成する。
func NewContactEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeContactEmailTaken,
		Message:  "同じメールアドレスの連絡先が既に存在します。",
		Category: "contact",
		Action:   "既存の連絡先を編集してください。",
		Field:    "email",
	}
}

// NewGroupNameTakenError は同名のグループが既に存在する場合のエラーを生成する。
func NewGroupNameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeGroupNameTaken,
		Message:  "同じ名前のグループが既に存在します。",
		Category: "contact",
		Action:   "別のグループ名を指定してください。",
		Field:    "name",
	}
}

// NewInvalidVerificationCodeError は確認コードが一致しない場合のエラーを生成する。
func NewInvalidVerificationCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVerificationCode,
		Message:  "確認コードが正しくありません。",
		Category: "auth",
		Action:   "メールに記載された確認コードを入力してください。",
		Field:    "code",
	}
}
