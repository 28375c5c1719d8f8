package model

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// PageResponse bootstraps a funnel page.
type PageResponse struct {
	Page    string      `json:"page"`
	Session string      `json:"session"`
	Stream  string      `json:"stream"`
	State   FunnelState `json:"state"`
}

type AnswerRequest struct {
	Option string `json:"option"`
}

type ActionRequest struct {
	Action string `json:"action"`
}

type BuyRequest struct {
	Position string `json:"position"`
}

type WindowRequest struct {
	Open bool `json:"open"`
}

type AcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	Next     string `json:"next,omitempty"`
}

// StateResponse exposes the persisted funnel state.
type StateResponse struct {
	State     FunnelState `json:"state"`
	SpotsLeft int         `json:"spotsLeft"`
}
