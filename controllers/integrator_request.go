package controllers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"integrator/delivery"
	"integrator/metrics"
	"integrator/middleware"
	"integrator/models"
	"integrator/store"
	"integrator/tools"
)

const (
	ERR_MISSING_ENV          = "missing_env"
	ERR_SUPABASE_UNREACHABLE = "supabase_unreachable"
	ERR_RPC_FAILED           = "rpc_failed"
	ERR_INSERT_FAILED        = "insert_failed"

	maxBodyBytes = 1 << 20
	maxDetails   = 500
)

// IntegratorController serves the docs site's request-access form.
// Store is nil when the deployment lacks its store credentials; Missing then
// names what is absent.
type IntegratorController struct {
	Store      store.Store
	Missing    []string
	Dispatcher *delivery.Dispatcher
	Options    models.NormalizeOptions
}

// ANY /api/integrator-request (only POST is accepted)
func (ic *IntegratorController) Submit(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		ic.fail(c, http.StatusMethodNotAllowed, models.ERR_METHOD_NOT_ALLOWED, nil)
		return
	}

	if ic.Store == nil || len(ic.Missing) > 0 {
		ic.fail(c, http.StatusInternalServerError, ERR_MISSING_ENV, gin.H{"required": ic.Missing})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	raw, err := c.GetRawData()
	if err != nil {
		ic.fail(c, http.StatusBadRequest, models.ERR_INVALID_JSON, nil)
		return
	}

	payload, rej := models.DecodePayload(raw)
	if rej != nil {
		ic.reject(c, rej)
		return
	}

	req, rej := models.Normalize(payload, models.RequestMeta{
		Referer:   c.GetHeader("Referer"),
		UserAgent: c.GetHeader("User-Agent"),
	}, ic.Options)
	if rej != nil {
		ic.reject(c, rej)
		return
	}

	ctx := c.Request.Context()
	id, err := ic.Store.CreateRequest(ctx, req)
	if err != nil {
		ic.storeFailure(c, err)
		return
	}

	if !req.WantsTestDelivery() || ic.Dispatcher == nil {
		metrics.RequestsTotal.WithLabelValues("ok").Inc()
		RespondSuccess(c, gin.H{"id": id})
		return
	}

	res := ic.Dispatcher.Dispatch(ctx, req, id)
	log.Printf("integrator request: id=%s delivery outcome=%s status=%v request_id=%s",
		deref(id), res.Outcome, derefInt(res.HTTPStatus), middleware.RequestIDFrom(c))

	body := gin.H{
		"id":                  id,
		"attempted":           res.Attempted,
		"delivered":           res.Delivered,
		"endpoint":            res.Endpoint,
		"timeout_ms":          res.TimeoutMS,
		"sent_bytes":          res.SentBytes,
		"newsml_news_item_id": res.NewsItemID,
	}
	if res.HTTPStatus != nil {
		body["http_status"] = *res.HTTPStatus
		body["response_headers"] = res.ResponseHeaders
	}
	if res.ResponseSnippet != nil {
		body["response_snippet"] = *res.ResponseSnippet
	}
	if res.Error != "" {
		body["error"] = res.Error
		body["error_detail"] = res.ErrorDetail
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	RespondSuccess(c, body)
}

func (ic *IntegratorController) storeFailure(c *gin.Context, err error) {
	log.Printf("integrator request: store error: %v request_id=%s", err, middleware.RequestIDFrom(c))

	var rpcErr *store.RPCError
	var insErr *store.InsertError
	switch {
	case errors.As(err, &rpcErr):
		ic.fail(c, http.StatusInternalServerError, ERR_RPC_FAILED, gin.H{
			"status":  rpcErr.Status,
			"details": tools.Truncate(rpcErr.Body, maxDetails),
		})
	case errors.As(err, &insErr):
		ic.fail(c, http.StatusInternalServerError, ERR_INSERT_FAILED, gin.H{
			"details": tools.Truncate(insErr.Detail, maxDetails),
		})
	default:
		// ErrUnreachable and anything unclassified: the store did not answer
		ic.fail(c, http.StatusBadGateway, ERR_SUPABASE_UNREACHABLE, nil)
	}
}

func (ic *IntegratorController) reject(c *gin.Context, rej *models.Rejection) {
	ic.fail(c, rej.Status, rej.Code, rej.Extra)
}

func (ic *IntegratorController) fail(c *gin.Context, status int, code string, extra gin.H) {
	metrics.RequestsTotal.WithLabelValues(code).Inc()
	RespondError(c, status, code, extra)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) any {
	if i == nil {
		return "-"
	}
	return *i
}
