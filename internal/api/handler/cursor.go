package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

const cursorPrefix = "id:"

// DecodeJobCursor returns the id the next page starts below. An empty
// cursor decodes to 0, the first page.
func DecodeJobCursor(cursorStr string) (domain.JobID, error) {
	if cursorStr == "" {
		return 0, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	raw, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid cursor format")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id in cursor: %q", raw)
	}

	return domain.JobID(id), nil
}

func EncodeJobCursor(lastID domain.JobID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(int64(lastID), 10)))
}
