package structs

import "time"

// SerializedState is the JSON-safe dump of one object. Inventory and
// environment are references, never nested states: the registry resolves
// them on load, which also bounds the size of any one state tree and
// breaks containment cycles.
type SerializedState struct {
	Path        string           `json:"path"`
	Id          string           `json:"id"`
	Clone       bool             `json:"is_clone"`
	Props       map[string]Value `json:"props"`
	ScriptState string           `json:"script_state,omitempty"`
	Inventory   []ObjectRef      `json:"inventory,omitempty"`
	Environment *ObjectRef       `json:"environment,omitempty"`
	Heartbeat   bool             `json:"heartbeat,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// PlayerSaveData wraps a player's object state with identity fields and
// whatever free-form fields the object's own save routine contributed.
type PlayerSaveData struct {
	Name     string           `json:"name"`
	Location string           `json:"location"`
	SavedAt  time.Time        `json:"saved_at"`
	State    *SerializedState `json:"state"`
	Extra    map[string]Value `json:"extra,omitempty"`
}

const WorldStateVersion = 1

// WorldState is a versioned snapshot of every live object.
type WorldState struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"saved_at"`
	Objects   []*SerializedState `json:"objects"`
}

// PermissionsFile is the persisted form of the permissions guard:
// player name (lowercased) to level ordinal, and builder name to assigned
// domain prefixes.
type PermissionsFile struct {
	Levels  map[string]int      `json:"levels"`
	Domains map[string][]string `json:"domains"`
}
