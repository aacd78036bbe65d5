package internal

import "sync"

// all live rooms. Rooms are stored entities, so once a room has been opened
// its broadcaster stays for the life of the process.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

// builds an empty hub ready to serve websocket requests
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// ensures there is a live Room for the given id
func (hub *Hub) getOrCreateRoom(id string) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[id]; exists {
		return room
	}
	room := newRoom(id)
	hub.rooms[id] = room
	go room.run()
	return room
}

// getRoom retrieves a room by id (may return nil)
func (hub *Hub) getRoom(id string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[id]
}

// onlineCount is the number of distinct users subscribed to the room.
func (hub *Hub) onlineCount(id string) int {
	room := hub.getRoom(id)
	if room == nil {
		return 0
	}
	return room.onlineUsers()
}

// evict unsubscribes every connection of userID from the room, used when
// the user gives up their membership.
func (hub *Hub) evict(roomID, userID string) {
	room := hub.getRoom(roomID)
	if room == nil {
		return
	}
	for _, client := range room.clientsOf(userID) {
		room.unregister <- client
	}
}
