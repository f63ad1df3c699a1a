package models

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"integrator/tools"
)

/************************************************
/**** MARK: REQUEST KINDS ****/
/************************************************/
const KIND_PUSH_ACCESS = "push_access"
const KIND_INTEGRATION = "integration"

// legacy aliases, ainda enviados por formulários antigos
const KIND_PUSH_TEST = "push_test"
const KIND_PUSH_ENABLE = "push_enable"

/************************************************
/**** MARK: DELIVERY ENVIRONMENTS ****/
/************************************************/
const DELIVERY_ENV_TEST = "test"
const DELIVERY_ENV_PRODUCTION = "production"

/************************************************
/**** MARK: REJECTION CODES ****/
/************************************************/
const ERR_METHOD_NOT_ALLOWED = "method_not_allowed"
const ERR_INVALID_JSON = "invalid_json"
const ERR_INVALID_KIND = "invalid_kind"
const ERR_INVALID_EMAIL = "invalid_email"
const ERR_MISSING_ENDPOINT_URL = "missing_endpoint_url"
const ERR_ENDPOINT_MUST_BE_HTTPS = "endpoint_must_be_https"

// IntegratorRequest is a normalized access/integration request, ready for the store.
// Optional fields are nil when absent, never empty strings.
type IntegratorRequest struct {
	ID               string     `gorm:"primary_key" json:"id"`
	Kind             string     `gorm:"not null;index" json:"kind"`
	Email            string     `gorm:"not null;index" json:"email"`
	Company          *string    `json:"company"`
	Name             *string    `json:"name"`
	Role             *string    `json:"role"`
	EndpointURL      *string    `gorm:"column:endpoint_url" json:"endpoint_url"`
	DeliveryEnv      *string    `gorm:"column:delivery_env" json:"delivery_env"`
	FormatPreference *string    `gorm:"column:format_preference" json:"format_preference"`
	Notes            *string    `gorm:"type:text" json:"notes"`
	SourcePath       *string    `gorm:"column:source_path" json:"source_path"`
	UserAgent        *string    `gorm:"column:user_agent" json:"user_agent"`
	CreatedAt        *time.Time `json:"created_at"`
}

func (IntegratorRequest) TableName() string {
	return "integrator_requests"
}

// WantsTestDelivery reports whether the request qualifies for a test delivery.
func (r IntegratorRequest) WantsTestDelivery() bool {
	return r.Kind == KIND_PUSH_ACCESS && r.DeliveryEnv != nil && *r.DeliveryEnv == DELIVERY_ENV_TEST
}

// RequestMeta carries what the transport knows about the submission.
type RequestMeta struct {
	Referer   string
	UserAgent string
}

type NormalizeOptions struct {
	LegacyKindAliases bool
}

// Rejection is a terminal validation failure.
type Rejection struct {
	Code   string
	Status int
	Extra  map[string]any
}

func (r *Rejection) Error() string {
	return r.Code
}

func reject(code string) *Rejection {
	return &Rejection{Code: code, Status: http.StatusBadRequest}
}

// AllowedKinds is echoed back on invalid_kind.
func AllowedKinds(opts NormalizeOptions) []string {
	allowed := []string{KIND_PUSH_ACCESS, KIND_INTEGRATION}
	if opts.LegacyKindAliases {
		allowed = append(allowed, KIND_PUSH_TEST+" (legacy)", KIND_PUSH_ENABLE+" (legacy)")
	}
	return allowed
}

// DecodePayload parses a submission body. An empty body is an empty object;
// anything that is not a JSON object is rejected.
func DecodePayload(body []byte) (map[string]any, *Rejection) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, reject(ERR_INVALID_JSON)
	}
	// anything after the object, stray closers included, is malformed
	if _, err := dec.Token(); err != io.EOF {
		return nil, reject(ERR_INVALID_JSON)
	}
	return raw, nil
}

// resolveKind maps the incoming kind (and aliases) to the stored kind plus
// the resolved delivery environment.
func resolveKind(kind string, env *string, opts NormalizeOptions) (string, *string, bool) {
	withDefault := func(def string) *string {
		if env != nil {
			return env
		}
		return &def
	}

	switch kind {
	case KIND_PUSH_ACCESS:
		return KIND_PUSH_ACCESS, withDefault(DELIVERY_ENV_TEST), true
	case KIND_INTEGRATION:
		return KIND_INTEGRATION, env, true
	case KIND_PUSH_TEST:
		if opts.LegacyKindAliases {
			return KIND_PUSH_ACCESS, withDefault(DELIVERY_ENV_TEST), true
		}
	case KIND_PUSH_ENABLE:
		if opts.LegacyKindAliases {
			return KIND_PUSH_ACCESS, withDefault(DELIVERY_ENV_PRODUCTION), true
		}
	}
	return "", env, false
}

// Normalize validates a decoded submission and builds the record to persist.
// Rules run in a fixed order and the first failure wins.
func Normalize(raw map[string]any, meta RequestMeta, opts NormalizeOptions) (*IntegratorRequest, *Rejection) {
	incomingKind := field(raw, "kind")
	if incomingKind == nil {
		return nil, reject(ERR_INVALID_KIND)
	}

	env := field(raw, "delivery_env")
	if env == nil {
		env = field(raw, "environment")
	}

	kind, deliveryEnv, ok := resolveKind(*incomingKind, env, opts)
	if !ok {
		rej := reject(ERR_INVALID_KIND)
		rej.Extra = map[string]any{"allowed": AllowedKinds(opts)}
		return nil, rej
	}

	email := field(raw, "email")
	if email == nil || !tools.ValidateEmail(*email) {
		return nil, reject(ERR_INVALID_EMAIL)
	}

	req := &IntegratorRequest{
		Kind:             kind,
		Email:            strings.ToLower(*email),
		Company:          field(raw, "company"),
		Name:             field(raw, "name"),
		Role:             field(raw, "role"),
		EndpointURL:      field(raw, "endpoint_url"),
		DeliveryEnv:      deliveryEnv,
		FormatPreference: field(raw, "format_preference"),
		Notes:            field(raw, "notes"),
		SourcePath:       field(raw, "source_path"),
		UserAgent:        tools.CleanString(meta.UserAgent),
	}
	if req.SourcePath == nil {
		req.SourcePath = tools.CleanString(meta.Referer)
	}

	if req.WantsTestDelivery() {
		if req.EndpointURL == nil {
			return nil, reject(ERR_MISSING_ENDPOINT_URL)
		}
		if !tools.IsHTTPSURL(*req.EndpointURL) {
			return nil, reject(ERR_ENDPOINT_MUST_BE_HTTPS)
		}
	}

	return req, nil
}

// field reads a scalar value as trimmed text. Objects and arrays count as absent.
func field(raw map[string]any, key string) *string {
	switch v := raw[key].(type) {
	case string:
		return tools.CleanString(v)
	case json.Number:
		return tools.CleanString(v.String())
	case float64:
		return tools.CleanString(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		return tools.CleanString(strconv.FormatBool(v))
	default:
		return nil
	}
}
