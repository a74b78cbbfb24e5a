package multiplayer

import (
	"slices"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/selection"
)

// Palette is the set of colors handed out to remote players in join order.
var Palette = []string{
	"#E53935", "#8E24AA", "#3949AB", "#00897B",
	"#7CB342", "#FFB300", "#F4511E", "#6D4C41",
}

// Player is a remote session in the current room.
type Player struct {
	User
	Color string
}

// Cursor returns the cell the player's selection cursor is on.
func (p Player) Cursor() (grid.Pos, bool) {
	if p.Selection == "" {
		return grid.Pos{}, false
	}
	sel, err := selection.Decode(p.Selection)
	if err != nil {
		return grid.Pos{}, false
	}
	return sel.Cursor, true
}

type rosterEntry struct {
	player Player
	misses int
}

// Roster tracks the remote players of one room. It is not safe for
// concurrent use; the Client guards it with its own lock.
type Roster struct {
	self      string
	missLimit int
	players   map[string]*rosterEntry
	nextColor int
}

// NewRoster creates a roster that ignores self and removes a player after
// missLimit consecutive room rosters without it.
func NewRoster(self string, missLimit int) *Roster {
	return &Roster{
		self:      self,
		missLimit: max(missLimit, 1),
		players:   make(map[string]*rosterEntry),
	}
}

// Reconcile diffs a full room roster against the known players. New
// sessions get the next palette color; known ones have their identity and
// presence refreshed; absent ones accumulate a miss and are dropped once
// they reach the miss limit.
func (r *Roster) Reconcile(users []User) (joined, left []string) {
	present := make(map[string]bool, len(users))
	for _, u := range users {
		if u.SessionID == r.self || u.SessionID == "" {
			continue
		}
		present[u.SessionID] = true
		if e, ok := r.players[u.SessionID]; ok {
			e.player.User = u
			e.misses = 0
			continue
		}
		r.players[u.SessionID] = &rosterEntry{player: Player{User: u, Color: Palette[r.nextColor]}}
		r.nextColor = (r.nextColor + 1) % len(Palette)
		joined = append(joined, u.SessionID)
	}
	for id, e := range r.players {
		if present[id] {
			continue
		}
		e.misses++
		if e.misses >= r.missLimit {
			delete(r.players, id)
			left = append(left, id)
		}
	}
	slices.Sort(joined)
	slices.Sort(left)
	return joined, left
}

// Update merges a presence update from a known session.
func (r *Roster) Update(sessionID string, up UserUpdate) error {
	e, ok := r.players[sessionID]
	if !ok {
		return &ProtocolError{Code: CodeUnknownSession, Message: "update for unknown session", SessionID: sessionID}
	}
	e.player.Apply(up)
	return nil
}

// Remove drops a player immediately.
func (r *Roster) Remove(sessionID string) bool {
	_, ok := r.players[sessionID]
	delete(r.players, sessionID)
	return ok
}

// Get returns a copy of one player.
func (r *Roster) Get(sessionID string) (Player, bool) {
	e, ok := r.players[sessionID]
	if !ok {
		return Player{}, false
	}
	return e.player, true
}

// Len returns the number of remote players.
func (r *Roster) Len() int { return len(r.players) }

// Players returns copies of all players sorted by session ID.
func (r *Roster) Players() []Player {
	out := make([]Player, 0, len(r.players))
	for _, e := range r.players {
		out = append(out, e.player)
	}
	slices.SortFunc(out, func(a, b Player) int { return strings.Compare(a.SessionID, b.SessionID) })
	return out
}

// CellIsBeingEdited reports whether any player has an active cell editor
// open on pos of sheetID.
func (r *Roster) CellIsBeingEdited(sheetID string, pos grid.Pos) bool {
	for _, e := range r.players {
		p := e.player
		if p.SheetID != sheetID || !p.CellEdit.Active {
			continue
		}
		if cur, ok := p.Cursor(); ok && cur == pos {
			return true
		}
	}
	return false
}

// Reset forgets every player, for example when leaving a room.
func (r *Roster) Reset() {
	clear(r.players)
	r.nextColor = 0
}
