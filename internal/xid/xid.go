// Package xid generates the prefixed ids every stored entity carries:
// prod, batch, mov, combo, cust, sale, cancel, sess and audit rows all
// get one. Ids sort roughly by creation time within a prefix.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 8

// New returns an id shaped like "sale-1756712345678901234-9f86d081a2b3c4d5".
// If the random source fails the id degrades to prefix and nanos, which
// stays unique enough for a single process writing through one store.
func New(prefix string) string {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
