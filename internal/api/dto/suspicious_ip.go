package dto

type SuspiciousUpdate struct {
	Flagged *bool `json:"flagged"`
}

type BulkPromoteRequest struct {
	IPAddresses []string `json:"ip_addresses"`
}

type DetectionResult struct {
	Flagged []string `json:"flagged"`
}
