package dto

import "iptrack/internal/domain"

type BlockRequest struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

type BlockResponse struct {
	Message string           `json:"message"`
	Created bool             `json:"created"`
	Entry   domain.BlockedIP `json:"entry"`
}

// BlockUpdate corrects a block reason. A blank reason clears it.
type BlockUpdate struct {
	Reason string `json:"reason"`
}
