package desk

import "github.com/naveenspark/supportdesk/pkg/domain"

// Directory is the ordered list of support rooms as the backend returned it.
type Directory struct {
	rooms []domain.Room
}

// Replace swaps in a freshly loaded room list, keeping backend order.
func (d *Directory) Replace(rooms []domain.Room) {
	d.rooms = append([]domain.Room(nil), rooms...)
}

// Rooms returns the rooms in order. The slice must not be modified.
func (d Directory) Rooms() []domain.Room { return d.rooms }

func (d Directory) Len() int { return len(d.rooms) }

// Find returns the room with the given id.
func (d Directory) Find(id domain.ID) (domain.Room, bool) {
	if i := d.index(id); i >= 0 {
		return d.rooms[i], true
	}
	return domain.Room{}, false
}

// Summary counts the rooms, the active rooms and the distinct online customers.
func (d Directory) Summary() (total, active, online int) {
	seen := make(map[domain.ID]bool)
	for _, r := range d.rooms {
		if r.Status == domain.RoomActive {
			active++
		}
		if r.IsOnline && r.User.ID != "" && !seen[r.User.ID] {
			seen[r.User.ID] = true
			online++
		}
	}
	return len(d.rooms), active, online
}

// IndexOf returns the position of the room with the given id, or -1.
func (d Directory) IndexOf(id domain.ID) int { return d.index(id) }

func (d Directory) index(id domain.ID) int {
	if id == "" {
		return -1
	}
	for i, r := range d.rooms {
		if r.RoomID == id {
			return i
		}
	}
	return -1
}

// UserIDs returns the distinct customer ids in the directory, in room order.
func (d Directory) UserIDs() []domain.ID {
	seen := make(map[domain.ID]bool, len(d.rooms))
	ids := make([]domain.ID, 0, len(d.rooms))
	for _, r := range d.rooms {
		if r.User.ID == "" || seen[r.User.ID] {
			continue
		}
		seen[r.User.ID] = true
		ids = append(ids, r.User.ID)
	}
	return ids
}

// ApplyPresence sets IsOnline on every room whose customer appears in online.
// Rooms whose customer is absent from the map keep their current flag.
func (d *Directory) ApplyPresence(online map[domain.ID]bool) {
	if len(online) == 0 {
		return
	}
	rooms := make([]domain.Room, len(d.rooms))
	copy(rooms, d.rooms)
	for i := range rooms {
		if v, ok := online[rooms[i].User.ID]; ok {
			rooms[i].IsOnline = v
		}
	}
	d.rooms = rooms
}
