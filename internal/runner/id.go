package runner

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// nodeID derives the stable per-process identity: hostname plus a 16-hex
// suffix. A non-zero seed makes the suffix deterministic.
func nodeID(seed int64) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if seed == 0 {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		return fmt.Sprintf("%s_%s", host, suffix)
	}
	buf := make([]byte, 8)
	rand.New(rand.NewSource(seed)).Read(buf)
	return fmt.Sprintf("%s_%s", host, hex.EncodeToString(buf))
}

// newEpochID tags one hatching epoch for log correlation.
func newEpochID() string {
	return ulid.Make().String()
}
