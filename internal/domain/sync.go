package domain

// Status is the derived state of a managed file
type Status string

const (
	// StatusNotInstalled: not on disk, a live record exists
	StatusNotInstalled Status = "NOT_INSTALLED"

	// StatusInstalled: local content matches the active record
	StatusInstalled Status = "INSTALLED"

	// StatusUpdateable: local untouched since install, the active record is newer
	StatusUpdateable Status = "UPDATEABLE"

	// StatusModified: local content diverges and must not be overwritten silently
	StatusModified Status = "MODIFIED"

	// StatusLocalOnly: on disk, never declared by any site
	StatusLocalOnly Status = "LOCAL_ONLY"

	// StatusObsolete: on disk, but only tombstones remain for the path
	StatusObsolete Status = "OBSOLETE"

	// StatusObsoleteUninstalled: not on disk, only tombstones remain
	StatusObsoleteUninstalled Status = "OBSOLETE_UNINSTALLED"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusNotInstalled, StatusInstalled, StatusUpdateable, StatusModified,
		StatusLocalOnly, StatusObsolete, StatusObsoleteUninstalled:
		return true
	}
	return false
}

// Resolution is the resolver output for one path
type Resolution struct {
	Path   string
	Status Status

	// Site is the site owning the active record (empty for LOCAL_ONLY)
	Site string

	// Record is the active record, valid when Site is not empty
	Record SiteRecord

	// Conflict is set when local and remote both diverged from the baseline
	Conflict bool
}

// ActionType represents the type of a reconciling action
type ActionType string

const (
	// ActionUpload pushes local content as a new live record
	ActionUpload ActionType = "upload"
	// ActionTombstone records that the site no longer ships the path
	ActionTombstone ActionType = "tombstone"
	// ActionInstall downloads the active record into the local tree
	ActionInstall ActionType = "install"
	// ActionUninstall removes an obsolete file from the local tree
	ActionUninstall ActionType = "uninstall"
	// ActionClaim only adopts an unchanged record (baseline and/or shadow)
	ActionClaim ActionType = "claim"
	// ActionConflict flags a file that is left untouched for the operator
	ActionConflict ActionType = "conflict"
	// ActionSkip leaves the path as is
	ActionSkip ActionType = "skip"
)

// Action represents a single operation in a plan
type Action struct {
	Type ActionType

	// Path is the relative path being operated on
	Path string

	// Site is the site the action targets or reads from
	Site string

	// Local is the local state for uploads (nil otherwise)
	Local *LocalState

	// Record is the remote record for installs and claims
	Record *SiteRecord

	// Shadow requests a force-shadow assignment of Path to Site
	Shadow bool

	// Reason explains why this action was chosen
	Reason string
}

// Plan is an ordered list of actions for one command
type Plan struct {
	// Command names the command that produced this plan
	Command string

	// Site is the target site for upload plans
	Site string

	Actions []Action

	// Conflicts that are left for the operator
	Conflicts []Action

	Stats PlanStats
}

// PlanStats provides summary statistics for a plan
type PlanStats struct {
	TotalFiles      int
	FilesToUpload   int
	FilesToObsolete int
	FilesToInstall  int
	FilesToRemove   int
	Claims          int
	Conflicts       int
	BytesToTransfer int64
}

// HasChanges reports whether executing the plan modifies anything
func (p *Plan) HasChanges() bool {
	return p.Stats.FilesToUpload+p.Stats.FilesToObsolete+p.Stats.FilesToInstall+
		p.Stats.FilesToRemove+p.Stats.Claims > 0
}
