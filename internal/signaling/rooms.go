package signaling

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/rs/zerolog/log"
)

// generateRoomID returns a memorable id such as "amber-otter-lantern-harbor"
// that is not currently known to the registry.
func (h *Hub) generateRoomID() string {
	lists := [][]string{adjectives, creatures, objects, places}
	for {
		id := fmt.Sprintf("%s-%s-%s-%s",
			pick(lists[0]), pick(lists[1]), pick(lists[2]), pick(lists[3]))
		if !h.registry.HasRoom(id) {
			return id
		}
	}
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a cryptographically secure random index in [0, max).
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic().Err(err).Msg("failed to generate random index")
	}
	return int(n.Int64())
}
