package rbac

type Role string
type Action string

const (
	RoleEditor    Role = "editor"
	RoleHR        Role = "hr"
	RoleSupport   Role = "support"
	RoleFinance   Role = "finance"
	RoleCofounder Role = "cofounder"
	RoleFounder   Role = "founder"
	RoleAdmin     Role = "admin"
)

const (
	ActionNewsWrite          Action = "news:write"
	ActionApplicationsManage Action = "applications:manage"
	ActionComplaintsManage   Action = "complaints:manage"
	ActionWorkflowSubmit     Action = "workflow:submit"
	ActionWorkflowView       Action = "workflow:view"
	ActionDecideFinance      Action = "workflow:decide:finance"
	ActionDecideCofounder    Action = "workflow:decide:cofounder"
	ActionDecideFounder      Action = "workflow:decide:founder"
	ActionEscalationRun      Action = "escalation:run"
	ActionUsersManage        Action = "users:manage"
)

var grants = map[Role][]Action{
	RoleEditor:    {ActionNewsWrite, ActionWorkflowSubmit},
	RoleHR:        {ActionApplicationsManage, ActionWorkflowSubmit},
	RoleSupport:   {ActionComplaintsManage, ActionWorkflowSubmit},
	RoleFinance:   {ActionWorkflowSubmit, ActionWorkflowView, ActionDecideFinance},
	RoleCofounder: {ActionWorkflowSubmit, ActionWorkflowView, ActionDecideCofounder, ActionComplaintsManage},
	RoleFounder: {
		ActionWorkflowSubmit, ActionWorkflowView, ActionDecideFounder, ActionComplaintsManage,
		ActionApplicationsManage, ActionNewsWrite, ActionEscalationRun,
	},
}

func Can(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Valid reports whether role is one of the known roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleEditor, RoleHR, RoleSupport, RoleFinance, RoleCofounder, RoleFounder, RoleAdmin:
		return true
	default:
		return false
	}
}

// Normalize maps unknown roles to editor, the least privileged role.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleEditor
}

func Roles() []Role {
	return []Role{RoleEditor, RoleHR, RoleSupport, RoleFinance, RoleCofounder, RoleFounder, RoleAdmin}
}
