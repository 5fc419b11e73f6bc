package charges

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	chargeIDPrefix  = "CHG"
	chargeIDRandLen = 9
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewChargeID returns CHG_<base36 unix millis>_<9 random base36 chars>, upper-cased.
func NewChargeID(now time.Time) string {
	return strings.ToUpper(chargeIDPrefix + "_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + RandomBase36(chargeIDRandLen))
}

// RandomBase36 returns n random characters from [0-9a-z].
func RandomBase36(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(base36Alphabet[idx.Int64()])
	}
	return b.String()
}
