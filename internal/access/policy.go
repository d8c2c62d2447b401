// Package access はロールに基づく認可判定と連絡先の可視範囲を提供する。
package access

import "github.com/hitoshi/contactbook/internal/model"

// CanAccessContact はactorが指定ユーザー所有の連絡先を参照・変更できるかを判定する。
// admin以上は全ての連絡先、userは自分の連絡先のみ。未知のロールは常に不可。
func CanAccessContact(actor *model.Identity, ownerID int64) bool {
	if actor == nil || !actor.Role.Valid() {
		return false
	}
	return ManageScope(actor).Includes(ownerID)
}

// CanChangeRole はactorがtargetのロールをnewRoleに変更できるかを判定する。
// 許可されない場合はFORBIDDENまたはINVALID_INPUTのAPIErrorを返す。
func CanChangeRole(actor *model.Identity, target *model.User, newRole model.Role) error {
	if actor == nil || !actor.Role.AtLeast(model.RoleAdmin) {
		return model.NewForbiddenError("ロールの変更にはadmin以上の権限が必要です")
	}
	if actor.ID == target.ID {
		return model.NewForbiddenError("自分自身のロールは変更できません")
	}
	if target.Role == model.RoleSuperadmin {
		return model.NewForbiddenError("superadminのロールは変更できません")
	}
	if target.Role == model.RoleAdmin && actor.Role != model.RoleSuperadmin {
		return model.NewForbiddenError("adminのロールを変更できるのはsuperadminのみです")
	}
	if newRole != model.RoleUser && newRole != model.RoleAdmin {
		return model.NewInvalidInputError("role", "指定できるロールはuserまたはadminです")
	}
	return nil
}

// CanManageUsers はユーザー一覧の参照などユーザー管理操作が可能かを判定する。
func CanManageUsers(actor *model.Identity) bool {
	return actor != nil && actor.Role.AtLeast(model.RoleAdmin)
}

// CanDeleteGroups はグループを削除できるかを判定する。
func CanDeleteGroups(actor *model.Identity) bool {
	return actor != nil && actor.Role.AtLeast(model.RoleAdmin)
}
