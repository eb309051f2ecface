package model

import "time"

// JobStatus represents the outcome of a try-on job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// QualityTier selects the remote rendering quality and its credit cost.
type QualityTier string

const (
	TierStandard QualityTier = "standard"
	TierHD       QualityTier = "hd"
	TierUltra    QualityTier = "ultra"
)

// ItemRef references an intake asset to be worn by the subject.
type ItemRef struct {
	AssetID  string
	Category string
	Name     string
}

// JobRequest is the caller's input to the orchestrator.
type JobRequest struct {
	SubjectAssetID string
	Items          []ItemRef
	Tier           QualityTier
	// Mock requests a simulated run from the compute service.
	Mock bool
}

// Job is the local record of one compute invocation. CostInCredits is fixed at
// submission and replaced by the remote's authoritative charge on success.
type Job struct {
	ID              string
	RemoteID        string
	Status          JobStatus
	Tier            QualityTier
	Mock            bool
	CostInCredits   int
	ResultReference string
	Durable         bool
	FailureReason   string
	Refunded        bool
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// Payload is the prepared, transmission-ready job body. The same Payload is
// reused verbatim for the single re-authentication retry.
type Payload struct {
	SubjectImage string
	Items        []PayloadItem
	Tier         QualityTier
	Mock         bool
}

// PayloadItem is one encoded item image with its descriptor.
type PayloadItem struct {
	Image    string
	Category string
	Name     string
}

// JobResponse is the compute service's success body.
type JobResponse struct {
	ResultImageURL string
	CreditsUsed    int
	CreditsLeft    int
	RemoteID       string
}
