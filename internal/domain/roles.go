package domain

// Capability names an operation group a role may perform. Authorization is
// checked at the HTTP boundary against this map; the lifecycle engine itself
// is role-agnostic.
type Capability string

const (
	CapUserAdmin     Capability = "users:admin"
	CapAccessCode    Capability = "access-codes:admin"
	CapSettingsAdmin Capability = "settings:admin"
	CapViewAll       Capability = "records:view-all"
	CapProspectWrite Capability = "prospects:write"
	CapClientCancel  Capability = "clients:cancel"
	CapSaleConclude  Capability = "sales:conclude"
	CapSaleCorrect   Capability = "sales:correct"
	CapSaleSettle    Capability = "sales:settle"
	CapLeadConfirm   Capability = "leads:confirm"
	CapInsights      Capability = "insights:read"
)

// roleCapabilities is the declarative capability map. Admin owns every
// mutation; supervisors get read-only visibility over all records; agents
// work their own portfolio.
var roleCapabilities = map[UserRole]map[Capability]bool{
	RoleAdmin: {
		CapUserAdmin:     true,
		CapAccessCode:    true,
		CapSettingsAdmin: true,
		CapViewAll:       true,
		CapProspectWrite: true,
		CapClientCancel:  true,
		CapSaleConclude:  true,
		CapSaleCorrect:   true,
		CapSaleSettle:    true,
		CapLeadConfirm:   true,
		CapInsights:      true,
	},
	RoleSupervisor: {
		CapViewAll:  true,
		CapInsights: true,
	},
	RoleAgent: {
		CapProspectWrite: true,
		CapLeadConfirm:   true,
		CapInsights:      true,
	},
}

// Can reports whether the role holds the capability.
func Can(role UserRole, cap Capability) bool {
	return roleCapabilities[role][cap]
}
