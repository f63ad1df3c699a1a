package models

import "time"

/************************************************
/**** MARK: DELIVERY ERRORS ****/
/************************************************/
const DELIVERY_ERR_REJECTED = "endpoint_rejected"
const DELIVERY_ERR_TIMEOUT = "endpoint_timeout"
const DELIVERY_ERR_UNREACHABLE = "endpoint_unreachable"

// DeliveryAttempt is the audit record of one test delivery. Delivered is nil
// while the outcome is unknown.
type DeliveryAttempt struct {
	ID               string            `gorm:"primary_key" json:"-"`
	RequestID        *string           `gorm:"column:request_id;index" json:"request_id"`
	DeliveryEnv      *string           `gorm:"column:delivery_env" json:"delivery_env"`
	EndpointURL      *string           `gorm:"column:endpoint_url" json:"endpoint_url"`
	Attempted        bool              `gorm:"not null;default:false" json:"attempted"`
	Delivered        *bool             `json:"delivered"`
	HTTPStatus       *int              `gorm:"column:http_status" json:"http_status"`
	ResponseHeaders  map[string]string `gorm:"-" json:"response_headers"`
	ResponseHeadersJ string            `gorm:"column:response_headers;type:text" json:"-"`
	ResponseSnippet  *string           `gorm:"column:response_snippet;type:text" json:"response_snippet"`
	Error            *string           `gorm:"column:error" json:"error"`
	ErrorDetail      *string           `gorm:"column:error_detail" json:"error_detail"`
	TimeoutMS        *int64            `gorm:"column:timeout_ms" json:"timeout_ms"`
	SentBytes        *int              `gorm:"column:sent_bytes" json:"sent_bytes"`
	NewsItemID       *string           `gorm:"column:newsml_news_item_id" json:"newsml_news_item_id"`
	HandlerVersion   string            `gorm:"column:handler_version" json:"handler_version"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "integrator_delivery_attempts"
}
