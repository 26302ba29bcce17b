package types

// AccessRequest is what a scanner submits after a chip touch. CardID carries
// the already hashed token identifier.
type AccessRequest struct {
	ModuleID    string `json:"module_id"`
	CardID      string `json:"card_id"`
	RequestedAt string `json:"requested_at,omitempty"` // optional device timestamp
}

type AccessResponse struct {
	OK         bool   `json:"ok"`
	Granted    bool   `json:"granted"`
	Opened     bool   `json:"opened"`
	Reason     string `json:"reason,omitempty"`
	ModuleID   string `json:"module_id"`
	ServerTime string `json:"server_time"`
}

// DoorStatus is the local view of one door's synchronisation state.
type DoorStatus struct {
	DoorID        string `json:"door_id"`
	CachedTokens  int    `json:"cached_tokens"`
	LastSync      string `json:"last_sync,omitempty"`
	LastSyncError string `json:"last_sync_error,omitempty"`
	Syncs         uint64 `json:"syncs"`
}
