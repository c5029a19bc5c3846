// Package validation normalizes and rejects inbound kill reports before
// they enter the decision pipeline. All functions are pure: they never
// touch the outcome store or the network.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/medic/arbiter/pkg/models"
)

const (
	maxEvidenceItems = 100
	maxEvidenceBytes = 10 * 1024
	maxMetadataBytes = 100 * 1024
	maxIdentifierLen = 255
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,254}$`)

// Failure is a typed validation failure: a field name and why it failed.
type Failure struct {
	Field  string
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

func newFailure(field, reason string) *Failure {
	return &Failure{Field: field, Reason: reason}
}

// RawKillReport is the wire shape of an inbound kill report, decoded
// directly from the stream payload before field-level validation.
type RawKillReport struct {
	KillID            string         `json:"kill_id"`
	Timestamp         string         `json:"timestamp"`
	TargetModule      string         `json:"target_module"`
	TargetInstanceID  string         `json:"target_instance_id"`
	KillReason        string         `json:"kill_reason"`
	Severity          string         `json:"severity"`
	ConfidenceScore   float64        `json:"confidence_score"`
	Evidence          []string       `json:"evidence"`
	Dependencies      []string       `json:"dependencies"`
	SourceAgent       string         `json:"source_agent"`
	Metadata          map[string]any `json:"metadata"`
}

// ValidateKillReport normalizes a raw wire payload into a models.KillReport,
// or returns a *Failure describing the first invariant violated. Per
// spec §4.1, a Failure at stream intake is never a pipeline error: the
// orchestrator treats it as a terminal Undetermined outcome.
func ValidateKillReport(raw RawKillReport) (*models.KillReport, error) {
	if raw.KillID == "" {
		return nil, newFailure("kill_id", "required")
	}

	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, newFailure("timestamp", "not RFC3339: "+err.Error())
	}

	targetModule, err := validateIdentifier("target_module", raw.TargetModule)
	if err != nil {
		return nil, err
	}
	targetInstanceID, err := validateIdentifier("target_instance_id", raw.TargetInstanceID)
	if err != nil {
		return nil, err
	}

	reason := models.KillReason(raw.KillReason)
	if !reason.Valid() {
		return nil, newFailure("kill_reason", "unrecognized: "+raw.KillReason)
	}

	severity := models.Severity(raw.Severity)
	if !severity.Valid() {
		return nil, newFailure("severity", "unrecognized: "+raw.Severity)
	}

	confidence, err := validateUnitInterval("confidence_score", raw.ConfidenceScore)
	if err != nil {
		return nil, err
	}

	if err := validateEvidence(raw.Evidence); err != nil {
		return nil, err
	}

	if raw.SourceAgent == "" {
		return nil, newFailure("source_agent", "required")
	}

	if err := validateMetadata(raw.Metadata); err != nil {
		return nil, err
	}

	dependencies := raw.Dependencies
	if dependencies == nil {
		dependencies = []string{}
	}
	evidence := raw.Evidence
	if evidence == nil {
		evidence = []string{}
	}

	return &models.KillReport{
		KillID:           raw.KillID,
		Timestamp:        ts,
		TargetModule:     targetModule,
		TargetInstanceID: targetInstanceID,
		KillReason:       reason,
		Severity:         severity,
		ConfidenceScore:  confidence,
		Evidence:         evidence,
		Dependencies:     dependencies,
		SourceAgent:      raw.SourceAgent,
		Metadata:         raw.Metadata,
	}, nil
}

func validateIdentifier(field, value string) (string, error) {
	if value == "" {
		return "", newFailure(field, "required")
	}
	if len(value) > maxIdentifierLen {
		return "", newFailure(field, "exceeds maximum length")
	}
	if !identifierPattern.MatchString(value) {
		return "", newFailure(field, "does not match the allowed identifier pattern")
	}
	return value, nil
}

func validateUnitInterval(field string, value float64) (float64, error) {
	if value < 0.0 || value > 1.0 {
		return 0, newFailure(field, "must be within [0,1]")
	}
	return value, nil
}

func validateEvidence(evidence []string) error {
	if len(evidence) > maxEvidenceItems {
		return newFailure("evidence", "exceeds 100 items")
	}
	for i, item := range evidence {
		if len(item) > maxEvidenceBytes {
			return newFailure(fmt.Sprintf("evidence[%d]", i), "exceeds 10 KiB")
		}
	}
	return nil
}

func validateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return newFailure("metadata", "not canonically serializable: "+err.Error())
	}
	if len(encoded) > maxMetadataBytes {
		return newFailure("metadata", "exceeds 100 KiB after serialization")
	}
	return nil
}
