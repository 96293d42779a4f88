package realtime

import (
	"hash/fnv"
	"sync"
)

const roomShardCount = 32

// Registry tracks live connections, which user owns each one, and which
// conversation rooms each connection is subscribed to. A user may hold any
// number of simultaneous connections; every registered connection of a room
// receives broadcasts.
//
// Session bookkeeping sits behind one mutex; the room index is sharded by
// conversation id so subscription churn and fan-out in one conversation do
// not contend with another.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn            // connID -> connection
	userConns map[string]map[string]*Conn // userID -> connID -> connection
	connRooms map[string]map[string]struct{}

	rooms [roomShardCount]roomShard
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn // conversationID -> connID -> connection
}

// NewRegistry constructs an initialized Registry.
func NewRegistry() *Registry {
	r := &Registry{
		conns:     make(map[string]*Conn),
		userConns: make(map[string]map[string]*Conn),
		connRooms: make(map[string]map[string]struct{}),
	}
	for i := range r.rooms {
		r.rooms[i].rooms = make(map[string]map[string]*Conn)
	}
	return r
}

// Register tracks a connection and starts its writer goroutine.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	r.conns[conn.ID] = conn
	byUser := r.userConns[conn.UserID]
	if byUser == nil {
		byUser = make(map[string]*Conn)
		r.userConns[conn.UserID] = byUser
	}
	byUser[conn.ID] = conn
	r.connRooms[conn.ID] = make(map[string]struct{})
	r.mu.Unlock()

	conn.Start()
}

// Unregister removes a connection from the session maps and from every room
// it was subscribed to. It reports whether this was the user's last
// connection, the trigger for a presence offline check.
func (r *Registry) Unregister(conn *Conn) (lastForUser bool) {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.ID)
	if byUser, ok := r.userConns[conn.UserID]; ok {
		delete(byUser, conn.ID)
		if len(byUser) == 0 {
			delete(r.userConns, conn.UserID)
			lastForUser = true
		}
	}
	memberships := r.connRooms[conn.ID]
	delete(r.connRooms, conn.ID)
	r.mu.Unlock()

	for conversationID := range memberships {
		r.removeFromRoom(conversationID, conn.ID)
	}
	return lastForUser
}

// Subscribe adds the connection to the conversation room. Authorization is
// the Hub's job; the registry is purely mechanical.
//
// The shard insert happens while r.mu is still held: releasing it first
// would let a concurrent Unregister sweep the membership set before the
// room entry exists, stranding the connection in the shard map.
func (r *Registry) Subscribe(conn *Conn, conversationID string) {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID]; !ok {
		r.mu.Unlock()
		return
	}
	r.connRooms[conn.ID][conversationID] = struct{}{}

	shard := r.shard(conversationID)
	shard.mu.Lock()
	room := shard.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Conn)
		shard.rooms[conversationID] = room
	}
	room[conn.ID] = conn
	shard.mu.Unlock()
	r.mu.Unlock()
}

// Unsubscribe removes the connection from the conversation room.
func (r *Registry) Unsubscribe(conn *Conn, conversationID string) {
	r.mu.Lock()
	if memberships, ok := r.connRooms[conn.ID]; ok {
		delete(memberships, conversationID)
	}
	r.mu.Unlock()

	r.removeFromRoom(conversationID, conn.ID)
}

// IsSubscribed reports whether the connection currently belongs to the room.
func (r *Registry) IsSubscribed(conn *Conn, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	memberships, ok := r.connRooms[conn.ID]
	if !ok {
		return false
	}
	_, ok = memberships[conversationID]
	return ok
}

// ConnectionsFor snapshots the connections subscribed to a conversation.
func (r *Registry) ConnectionsFor(conversationID string) []*Conn {
	shard := r.shard(conversationID)
	shard.mu.RLock()
	room := shard.rooms[conversationID]
	out := make([]*Conn, 0, len(room))
	for _, conn := range room {
		out = append(out, conn)
	}
	shard.mu.RUnlock()
	return out
}

// ConnectionsOf snapshots every live connection of a user.
func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.mu.RLock()
	byUser := r.userConns[userID]
	out := make([]*Conn, 0, len(byUser))
	for _, conn := range byUser {
		out = append(out, conn)
	}
	r.mu.RUnlock()
	return out
}

// ConnCount returns the number of live connections a user holds.
func (r *Registry) ConnCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

// Close terminates every tracked connection and clears all state.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.userConns = make(map[string]map[string]*Conn)
	r.connRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for i := range r.rooms {
		r.rooms[i].mu.Lock()
		r.rooms[i].rooms = make(map[string]map[string]*Conn)
		r.rooms[i].mu.Unlock()
	}
	for _, conn := range conns {
		conn.Close(1001, "registry shutdown")
	}
}

func (r *Registry) removeFromRoom(conversationID, connID string) {
	shard := r.shard(conversationID)
	shard.mu.Lock()
	if room := shard.rooms[conversationID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(shard.rooms, conversationID)
		}
	}
	shard.mu.Unlock()
}

func (r *Registry) shard(conversationID string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &r.rooms[h.Sum32()%roomShardCount]
}
