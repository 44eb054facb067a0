package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const orderNumberAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateOrderNumber returns a human readable number such as
// ORD-20260301-7K3M9QZA. The date part is the creation day in loc.
func GenerateOrderNumber(at time.Time, loc *time.Location) string {
	var sb strings.Builder
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// Fallback to the clock if random generation fails
			n = big.NewInt(at.UnixNano() >> (i * 5) % int64(len(orderNumberAlphabet)))
		}
		sb.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return fmt.Sprintf("ORD-%s-%s", BusinessDate(at, loc, "20060102"), sb.String())
}
