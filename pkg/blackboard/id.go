package blackboard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// idLength is the number of hex characters kept from the digest.
const idLength = 16

// NewItemID derives an item id from the content, the creation time and a random
// UUID. The random component keeps identical posts made in the same instant apart.
func NewItemID(kind string, payload Payload, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})

	// json.Marshal sorts map keys, so equal payloads hash equally.
	if data, err := json.Marshal(payload); err == nil {
		h.Write(data)
	}
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	h.Write([]byte{0})

	u := uuid.New()
	h.Write(u[:])

	return hex.EncodeToString(h.Sum(nil))[:idLength]
}
