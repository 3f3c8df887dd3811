package process

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/david/grant-scraper/internal/models"
)

var punctRe = regexp.MustCompile(`[^\w\s]`)

// canonicalText lowercases and strips punctuation for hashing.
func canonicalText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

var orgSuffixRe = regexp.MustCompile(`(?i)\b(inc|incorporated|llc|ltd|limited|corp|corporation|co|company|foundation|fund|trust|charity|org|organization)\b\.?`)

// relaxedOrgName strips common organization suffixes so "Acme Foundation"
// and "Acme Fund Inc." hash alike.
func relaxedOrgName(s string) string {
	s = orgSuffixRe.ReplaceAllString(s, " ")
	return canonicalText(s)
}

// bucketThousands rounds an amount down to the nearest thousand for the
// relaxed duplicate hash.
func bucketThousands(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v / 1000 * 1000
}

// ContentHash is the strict SHA-256 fingerprint over the normalized record.
// Any meaningful field change produces a new hash.
func ContentHash(g models.Grant) string {
	deadline := ""
	if g.Deadline != nil {
		deadline = g.Deadline.Format("2006-01-02")
	}
	amountMin, amountMax := int64(-1), int64(-1)
	if g.AmountMin != nil {
		amountMin = *g.AmountMin
	}
	if g.AmountMax != nil {
		amountMax = *g.AmountMax
	}
	locations := append([]string(nil), g.LocationEligibility...)
	sort.Strings(locations)

	canonical := strings.Join([]string{
		canonicalText(g.Title),
		canonicalText(g.Description),
		canonicalText(g.Funder.Name),
		deadline,
		fmt.Sprintf("%d|%d", amountMin, amountMax),
		g.ApplicationURL,
		string(g.Category),
		strings.Join(locations, ","),
	}, "\x1f")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// DuplicateHash is the relaxed MD5 fingerprint used for duplicate grouping.
// Organization suffixes are removed and amounts bucketed to thousands so
// near-identical listings from different sources collide.
func DuplicateHash(g models.Grant) string {
	deadline := ""
	if g.Deadline != nil {
		deadline = g.Deadline.Format("2006-01-02")
	}
	canonical := strings.Join([]string{
		canonicalText(g.Title),
		relaxedOrgName(g.Funder.Name),
		deadline,
		fmt.Sprintf("%d|%d", bucketThousands(g.AmountMin), bucketThousands(g.AmountMax)),
	}, "\x1f")

	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
