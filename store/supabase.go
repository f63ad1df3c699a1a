package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"integrator/models"
)

const maxDiagnosticBody = 500

// Supabase talks to PostgREST: an RPC for request creation and a plain
// table insert for delivery attempts.
type Supabase struct {
	BaseURL        string
	ServiceRoleKey string
	RPCFunction    string
	AttemptsTable  string
	Schema         string
	Client         *http.Client
}

func NewSupabase(baseURL, serviceRoleKey string) *Supabase {
	return &Supabase{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ServiceRoleKey: serviceRoleKey,
		RPCFunction:    "submit_integrator_request",
		AttemptsTable:  "integrator_delivery_attempts",
		Client:         &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcPayload struct {
	Kind             string  `json:"p_kind"`
	Email            string  `json:"p_email"`
	Company          *string `json:"p_company"`
	Name             *string `json:"p_name"`
	Role             *string `json:"p_role"`
	EndpointURL      *string `json:"p_endpoint_url"`
	DeliveryEnv      *string `json:"p_delivery_env"`
	FormatPreference *string `json:"p_format_preference"`
	Notes            *string `json:"p_notes"`
	SourcePath       *string `json:"p_source_path"`
	UserAgent        *string `json:"p_user_agent"`
}

func (s *Supabase) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("apikey", s.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+s.ServiceRoleKey)
	req.Header.Set("Content-Type", "application/json")
	if s.Schema != "" {
		req.Header.Set("Content-Profile", s.Schema)
		req.Header.Set("Accept-Profile", s.Schema)
	}
	return req, nil
}

func (s *Supabase) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s *Supabase) CreateRequest(ctx context.Context, r *models.IntegratorRequest) (*string, error) {
	payload := rpcPayload{
		Kind:             r.Kind,
		Email:            r.Email,
		Company:          r.Company,
		Name:             r.Name,
		Role:             r.Role,
		EndpointURL:      r.EndpointURL,
		DeliveryEnv:      r.DeliveryEnv,
		FormatPreference: r.FormatPreference,
		Notes:            r.Notes,
		SourcePath:       r.SourcePath,
		UserAgent:        r.UserAgent,
	}

	req, err := s.newRequest(ctx, "/rest/v1/rpc/"+s.RPCFunction, payload)
	if err != nil {
		return nil, err
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		return nil, &RPCError{Status: resp.StatusCode, Body: string(body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	return parseIdentifier(raw), nil
}

// parseIdentifier accepts a JSON string or number; anything else is nil.
func parseIdentifier(raw []byte) *string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}

	var id string
	switch t := v.(type) {
	case string:
		id = t
	case json.Number:
		id = t.String()
	case bool:
		id = strconv.FormatBool(t)
	default:
		return nil
	}
	if id == "" {
		return nil
	}
	return &id
}

func (s *Supabase) LogDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	req, err := s.newRequest(ctx, "/rest/v1/"+s.AttemptsTable, attempt)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client().Do(req)
	if err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		return errors.Wrap(&RPCError{Status: resp.StatusCode, Body: string(body)}, "log delivery attempt")
	}
	return nil
}
