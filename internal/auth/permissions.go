package auth

// Permission keys understood by the portal's protected surfaces.
const (
	PermUserAdmin        = "user.admin"
	PermRecallManage     = "recall.manage"
	PermReportReview     = "report.review"
	PermReportSubmit     = "report.submit"
	PermFacilityManage   = "facility.manage"
	PermDeviceRegister   = "device.register"
	PermComplaintRespond = "complaint.respond"
)

// rolePermissions is the whole permission model: a fixed mapping from the
// closed role set to capability sets. No persistence is involved.
var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermUserAdmin,
		PermRecallManage,
		PermReportReview,
	},
	RoleFacility: {
		PermReportSubmit,
		PermFacilityManage,
	},
	RoleManufacturer: {
		PermReportSubmit,
		PermDeviceRegister,
		PermComplaintRespond,
	},
}

// PermissionsFor returns the capability set for a role. The function is
// total: an unknown role yields the empty set.
func PermissionsFor(role Role) map[string]struct{} {
	keys := rolePermissions[role]
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// HasPermission reports whether the identity's role grants the permission.
func (i Identity) HasPermission(key string) bool {
	for _, k := range rolePermissions[i.Role] {
		if k == key {
			return true
		}
	}
	return false
}
