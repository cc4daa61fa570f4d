package policy

import (
	"testing"

	"taskmaster/internal/model"
)

func uintPtr(v uint) *uint { return &v }

func TestCanAccess_AdminBypassesEverything(t *testing.T) {
	admin := &model.User{ID: 99, Role: model.RoleAdmin}
	task := &model.Task{ID: 1, CreatedByID: 1}

	for _, action := range []Action{ActionRead, ActionUpdate, ActionDelete} {
		if !CanAccess(admin, task, action) {
			t.Fatalf("admin should pass %s", action)
		}
	}
}

func TestCanAccess_CreatorHasFullAccess(t *testing.T) {
	creator := &model.User{ID: 1, Role: model.RoleUser}
	task := &model.Task{ID: 1, CreatedByID: 1}

	for _, action := range []Action{ActionRead, ActionUpdate, ActionDelete} {
		if !CanAccess(creator, task, action) {
			t.Fatalf("creator should pass %s", action)
		}
	}
}

func TestCanAccess_AssigneeCannotDelete(t *testing.T) {
	assignee := &model.User{ID: 2, Role: model.RoleUser}
	task := &model.Task{ID: 1, CreatedByID: 1, AssignedToID: uintPtr(2)}

	if !CanAccess(assignee, task, ActionRead) {
		t.Fatal("assignee should read")
	}
	if !CanAccess(assignee, task, ActionUpdate) {
		t.Fatal("assignee should update")
	}
	if CanAccess(assignee, task, ActionDelete) {
		t.Fatal("assignee must not delete")
	}
}

func TestCanAccess_StrangerDeniedEverything(t *testing.T) {
	stranger := &model.User{ID: 3, Role: model.RoleUser}
	task := &model.Task{ID: 1, CreatedByID: 1, AssignedToID: uintPtr(2)}

	for _, action := range []Action{ActionRead, ActionUpdate, ActionDelete} {
		if CanAccess(stranger, task, action) {
			t.Fatalf("stranger must not pass %s", action)
		}
	}
}

func TestCanAssign(t *testing.T) {
	user := &model.User{ID: 1, Role: model.RoleUser}
	admin := &model.User{ID: 2, Role: model.RoleAdmin}

	if !CanAssign(user, 1) {
		t.Fatal("user should assign to self")
	}
	if CanAssign(user, 2) {
		t.Fatal("user must not assign to others")
	}
	if !CanAssign(admin, 1) {
		t.Fatal("admin should assign to anyone")
	}
}
