package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "editor writes news", role: RoleEditor, action: ActionNewsWrite, allow: true},
		{name: "editor cannot manage complaints", role: RoleEditor, action: ActionComplaintsManage, allow: false},
		{name: "hr manages applications", role: RoleHR, action: ActionApplicationsManage, allow: true},
		{name: "hr cannot decide", role: RoleHR, action: ActionDecideFinance, allow: false},
		{name: "support manages complaints", role: RoleSupport, action: ActionComplaintsManage, allow: true},
		{name: "finance decides finance stage", role: RoleFinance, action: ActionDecideFinance, allow: true},
		{name: "finance cannot decide founder stage", role: RoleFinance, action: ActionDecideFounder, allow: false},
		{name: "cofounder decides cofounder stage", role: RoleCofounder, action: ActionDecideCofounder, allow: true},
		{name: "cofounder cannot decide finance stage", role: RoleCofounder, action: ActionDecideFinance, allow: false},
		{name: "founder decides founder stage", role: RoleFounder, action: ActionDecideFounder, allow: true},
		{name: "founder cannot manage users", role: RoleFounder, action: ActionUsersManage, allow: false},
		{name: "admin manages users", role: RoleAdmin, action: ActionUsersManage, allow: true},
		{name: "admin decides any stage", role: RoleAdmin, action: ActionDecideCofounder, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionWorkflowSubmit, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("finance"); got != RoleFinance {
		t.Fatalf("Normalize(finance) = %q", got)
	}
	if got := Normalize("root"); got != RoleEditor {
		t.Fatalf("Normalize(root) = %q, want editor", got)
	}
	if Valid("viewer") {
		t.Fatal("viewer is not a back-office role")
	}
	if len(Roles()) != 7 {
		t.Fatalf("expected 7 roles, got %d", len(Roles()))
	}
}
