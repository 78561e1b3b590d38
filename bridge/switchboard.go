package bridge

import (
	"sync"
)

// Slots are the callbacks the hosting network layer installs. Every
// field is optional; the switchboard behaves inertly for any slot left
// nil, so the driver runs headless without a session layer.
type Slots struct {
	// BindPlayer attaches a player name to a connection id.
	BindPlayer func(player string, connection string) error
	// FindPlayer reports whether the named player is connected and
	// returns their connection id.
	FindPlayer func(player string) (string, bool)
	// TransferConnection hands a connection to another player,
	// used for takeovers after a dropped link.
	TransferConnection func(connection string, player string) error
	// ExecuteCommand runs a command line as the named player at the
	// given permission level and returns its output.
	ExecuteCommand func(player string, level int, line string) (string, error)
	// RegisterActive and UnregisterActive track which players are
	// live in the game loop.
	RegisterActive   func(player string)
	UnregisterActive func(player string)
	// Broadcast sends a message to every connected player.
	Broadcast func(message string)
	// SendTo sends a message to one player; reports whether they
	// were reachable.
	SendTo func(player string, message string) bool
}

// Switchboard routes driver-side calls to whatever network layer is
// installed, and swallows them when none is.
type Switchboard struct {
	mu      sync.RWMutex
	slots   Slots
	console console
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{}
}

// Install replaces the callback set. Passing a zero Slots reverts the
// switchboard to inert defaults.
func (s *Switchboard) Install(slots Slots) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = slots
}

func (s *Switchboard) snapshot() Slots {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots
}

func (s *Switchboard) BindPlayer(player, connection string) error {
	if f := s.snapshot().BindPlayer; f != nil {
		return f(player, connection)
	}
	return nil
}

func (s *Switchboard) FindPlayer(player string) (string, bool) {
	if f := s.snapshot().FindPlayer; f != nil {
		return f(player)
	}
	return "", false
}

func (s *Switchboard) TransferConnection(connection, player string) error {
	if f := s.snapshot().TransferConnection; f != nil {
		return f(connection, player)
	}
	return nil
}

func (s *Switchboard) ExecuteCommand(player string, level int, line string) (string, error) {
	if f := s.snapshot().ExecuteCommand; f != nil {
		return f(player, level, line)
	}
	return "", nil
}

func (s *Switchboard) RegisterActive(player string) {
	if f := s.snapshot().RegisterActive; f != nil {
		f(player)
	}
}

func (s *Switchboard) UnregisterActive(player string) {
	if f := s.snapshot().UnregisterActive; f != nil {
		f(player)
	}
}

func (s *Switchboard) Broadcast(message string) {
	if f := s.snapshot().Broadcast; f != nil {
		f(message)
	}
}

func (s *Switchboard) SendTo(player, message string) bool {
	if f := s.snapshot().SendTo; f != nil {
		return f(player, message)
	}
	return false
}
