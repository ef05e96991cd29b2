package handlers

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APICreateResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	// requests created during the last 24 hours
	RecentRequests int `json:"recentRequests"`
}

type APIBalanceResponse struct {
	Status  string `json:"status"`
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}
