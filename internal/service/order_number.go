package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newOrderNumber returns ORD-<unix millis>-<user id>-<8 hex chars>.
func newOrderNumber(userID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%d-%d-%s", time.Now().UnixMilli(), userID, suffix)
}
