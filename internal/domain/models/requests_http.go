package models

// Requests for the read and ops HTTP endpoints.

type ChartRequest struct {
	Market string `param:"market" validate:"required"`
	Symbol string `param:"symbol" validate:"required"`
}

type AlertsRequest struct {
	Limit int `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type LogsRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Market string `query:"market" json:"market"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// PollRequest is shared by the ops endpoint and the Kafka poll-request topic.
type PollRequest struct {
	Symbols  []string `json:"symbols"`
	Groups   []string `json:"groups"`
	Mode     string   `json:"mode" default:"latest" validate:"oneof=full latest from-date reset"`
	FromDate string   `json:"from_date" validate:"required_if=Mode from-date"`
}

// ScoreOverrideRequest sets an operator score on one day; a null score clears it.
type ScoreOverrideRequest struct {
	Market string `json:"market" validate:"required"`
	Symbol string `json:"symbol" validate:"required"`
	Date   string `json:"date" validate:"required"`
	Score  *int   `json:"score" validate:"omitempty,gte=0,lte=100"`
}
