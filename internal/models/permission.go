package models

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionManage:
		return true
	}
	return false
}

// Permission is an explicit grant of one action on one resource. A manage
// grant covers read and write on the same resource.
type Permission struct {
	Resource string `json:"resource"`
	Action   Action `json:"action"`
}

// Resources the core checks grants against.
const (
	ResourceUsers   = "users"
	ResourceTenants = "tenants"
	ResourceEvents  = "events"
	ResourceQuotes  = "quotes"
)
