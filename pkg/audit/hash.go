package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// hashTimeLayout is ISO-8601 with millisecond precision in UTC, the
// canonical timestamp rendering covered by the hash.
const hashTimeLayout = "2006-01-02T15:04:05.000Z"

// CanonicalTimestamp renders t the way the integrity hash expects it.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(hashTimeLayout)
}

// ComputeHash returns the lowercase hex SHA-256 over the record's canonical
// field string. Fields are rendered in a fixed order, empty values are
// dropped, and the remainder is joined with "|". Any change to a covered
// field after the fact produces a different hash.
func ComputeHash(r *Record) string {
	fields := []string{
		r.UUID,
		CanonicalTimestamp(r.Timestamp),
		r.UserID,
		canonicalOrgID(r.OrgID),
		r.ClientID,
		r.Action,
		string(r.Category),
		string(r.Status),
		r.Message,
		canonicalMetadata(r.Metadata),
		r.SourceIP,
		r.AffectedEntityType,
		r.AffectedEntityID,
	}

	nonEmpty := fields[:0]
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(nonEmpty, "|")))
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the record's hash and compares it to the stored one.
func VerifyHash(r *Record) bool {
	return r.Hash != "" && r.Hash == ComputeHash(r)
}

func canonicalOrgID(orgID int64) string {
	if orgID == 0 {
		return ""
	}
	return strconv.FormatInt(orgID, 10)
}

// canonicalMetadata renders metadata as compact JSON with sorted keys, or
// empty when there is none. encoding/json sorts map keys, which keeps the
// rendering stable across processes.
func canonicalMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(b)
}
