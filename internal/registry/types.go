package registry

// Status is the lifecycle state of a package in the registry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusIgnored Status = "ignored"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusIgnored:
		return true
	}
	return false
}

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusSuccess, StatusPending, StatusFailed, StatusIgnored}

// File is the on-disk form of the registry (registry.json).
// Packages are ordered newest-discovered first.
type File struct {
	Packages []Entry `json:"packages"`
}

// Entry records the status of a single package version.
type Entry struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}
