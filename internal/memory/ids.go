package memory

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRecordID allocates a record identifier of the shape
// mem_<ms-epoch>_<8-hex>. The random suffix makes ids allocated within
// the same millisecond globally unique.
func NewRecordID(now time.Time) string {
	return newID("mem", now)
}

// NewEntityID allocates an entity-row identifier.
func NewEntityID(now time.Time) string {
	return newID("ent", now)
}

// NewPromptID allocates a skill-prompt identifier.
func NewPromptID(now time.Time) string {
	return newID("sp", now)
}

// NewRuleID allocates a context-rule identifier.
func NewRuleID(now time.Time) string {
	return newID("cr", now)
}

// NewSkillID allocates an installed-skill identifier.
func NewSkillID(now time.Time) string {
	return newID("skill", now)
}

func newID(prefix string, now time.Time) string {
	var b [4]byte
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), hex.EncodeToString(b[:]))
}
