package models

// Requests for the sources HTTP endpoints.

type MarketRequest struct {
	SourceID string `param:"source_id" validate:"required"`
	Market   string `param:"market" validate:"required"`
}

type MarketStatusRequest struct {
	SourceID  string `param:"source_id" validate:"required"`
	Market    string `param:"market" validate:"required"`
	CheckTime string `query:"check_time"`
}

type LatestDataRequest struct {
	SourceID string `param:"source_id" validate:"required"`
	Market   string `param:"market" validate:"required"`
	DataType string `param:"data_type" validate:"required"`
}

type SpecialDaysRequest struct {
	SourceID string `param:"source_id" validate:"required"`
	Market   string `param:"market" validate:"required"`
	TZ       string `query:"tz" default:"Asia/Shanghai"`
}

type SourceRequest struct {
	SourceID string `param:"source_id" validate:"required"`
}

// StreamRequest carries comma separated filter lists.
type StreamRequest struct {
	Sources   string `query:"sources"`
	Markets   string `query:"markets"`
	DataTypes string `query:"data_types"`
}
