package chat

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// conversationLocks serializes persist-then-broadcast per conversation.
// Striped by conversation id: sends to different conversations proceed in
// parallel, two sends to the same conversation never interleave between the
// id assignment and the broadcast.
type conversationLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *conversationLocks) lock(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
