package review

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

// Retention windows, from the original retention policy: routine
// packages age out in 72 hours, offence evidence is held a year, and an
// open appeal pins the package for seven years.
const (
	nonOffenceRetention = 72 * time.Hour
	offenceRetention    = 365 * 24 * time.Hour
	appealRetention     = 7 * 365 * 24 * time.Hour
)

// retentionFor picks the retention window from the assessed risk level.
func retentionFor(level entity.RiskLevel) time.Duration {
	if level == entity.RiskHigh || level == entity.RiskCritical {
		return offenceRetention
	}
	return nonOffenceRetention
}

// hashedPackage is the canonical subset of an evidence package covered
// by the integrity hash: identity, provenance, and the immutable
// detection events. Review fields are deliberately excluded so the hash
// computed at creation stays valid through the review lifecycle.
type hashedPackage struct {
	ID             string                  `json:"id"`
	IncidentID     string                  `json:"incident_id"`
	CreatedAt      time.Time               `json:"created_at"`
	Events         []entity.DetectionEvent `json:"events"`
	RiskAssessment entity.RiskAssessment   `json:"risk_assessment"`
}

// HashPackage computes the content hash of an evidence package. It is
// computed once at creation; any later mismatch at review time means
// the covered content was tampered with.
func HashPackage(p *entity.EvidencePackage) string {
	b, err := json.Marshal(hashedPackage{
		ID:             p.ID,
		IncidentID:     p.IncidentID,
		CreatedAt:      p.CreatedAt,
		Events:         p.Events,
		RiskAssessment: p.RiskAssessment,
	})
	if err != nil {
		// Marshalling fixed struct types cannot fail at runtime.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
