package access

import "github.com/hitoshi/contactbook/internal/model"

// ListScope は連絡先一覧の可視範囲を返す。
// superadminは所有者を指定すればその所有者、指定しなければ全所有者を対象とする。
// それ以外は指定の有無にかかわらず自分の連絡先のみ。
func ListScope(actor *model.Identity, targetOwner *int64) model.ContactScope {
	if actor.Role == model.RoleSuperadmin {
		if targetOwner != nil {
			return model.OwnedBy(*targetOwner)
		}
		return model.AllContacts()
	}
	return model.OwnedBy(actor.ID)
}

// ManageScope は個別の参照・更新・削除が可能な範囲を返す。
// admin以上は全連絡先、userは自分の連絡先のみ。
func ManageScope(actor *model.Identity) model.ContactScope {
	if actor.Role.AtLeast(model.RoleAdmin) {
		return model.AllContacts()
	}
	return model.OwnedBy(actor.ID)
}

// BulkDeleteScope は一括削除の対象範囲を返す。
func BulkDeleteScope(actor *model.Identity) model.ContactScope {
	return ManageScope(actor)
}

// GroupedScope は所有者別一覧の対象範囲を返す。admin以上は全所有者、userは自分のみ。
func GroupedScope(actor *model.Identity) model.ContactScope {
	return ManageScope(actor)
}
