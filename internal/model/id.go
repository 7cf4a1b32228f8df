package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const missionIDPrefix = "msn"

var missionIDRegex = regexp.MustCompile(`^msn_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateMissionID returns a fresh mission id: msn_<unix seconds>_<8 hex>.
// The timestamp keeps ids roughly sortable by creation; the suffix comes from
// a v4 UUID so collisions within one second are not a concern.
func GenerateMissionID() string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%010d_%s", missionIDPrefix, time.Now().Unix(), entropy)
}

func ValidateMissionID(id string) bool {
	return missionIDRegex.MatchString(id)
}

// ParseMissionIDTimestamp extracts the creation timestamp embedded in the id.
func ParseMissionIDTimestamp(id string) (time.Time, error) {
	if !ValidateMissionID(id) {
		return time.Time{}, fmt.Errorf("invalid mission ID format: %s", id)
	}
	// After the prefix: 10 digits, '_', 8 hex chars.
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
