package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

var pointIDNamespaceUUID = uuid.MustParse("6b0f3c1e-8a57-4a8e-9d0c-3f1d2f7c9a41")

type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Collection talks to one Qdrant collection over the REST API.
type Collection struct {
	log  *logger.Logger
	cfg  Config
	base string
	http *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func New(log *logger.Logger, cfg Config, client *http.Client) (*Collection, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Collection{
		log:  log.With("service", "QdrantCollection", "collection", cfg.Collection),
		cfg:  cfg,
		base: strings.TrimRight(cfg.URL, "/"),
		http: client,
	}, nil
}

func (c *Collection) Name() string { return c.cfg.Collection }

// PointID derives a stable point id so re-indexing the same chunk overwrites it.
func PointID(parts ...string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(strings.Join(parts, "|"))).String()
}

// EnsureCollection creates the collection and its content_hash payload index when missing,
// and checks the vector size when it already exists.
func (c *Collection) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := c.doJSON(ctx, op, http.MethodGet, c.path(""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != c.cfg.VectorDim {
			return &OperationError{
				Code:      OperationErrorValidation,
				Operation: op,
				Message:   fmt.Sprintf("vector size mismatch: expected=%d actual=%d", c.cfg.VectorDim, size),
			}
		}
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}
	create := map[string]any{
		"vectors": map[string]any{"size": c.cfg.VectorDim, "distance": c.cfg.Distance},
	}
	if err := c.doJSON(ctx, op, http.MethodPut, c.path(""), create, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": "content_hash", "field_schema": "keyword"}
	if err := c.doJSON(ctx, op, http.MethodPut, c.path("/index?wait=true"), index, nil); err != nil {
		return err
	}
	c.log.Info("Qdrant collection created", "vector_dim", c.cfg.VectorDim, "distance", c.cfg.Distance)
	return nil
}

func (c *Collection) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) != c.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, c.cfg.VectorDim, len(p.Vector)), nil)
		}
	}
	return c.doJSON(ctx, op, http.MethodPut, c.path("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (c *Collection) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error) {
	const op = "search"
	if len(vector) != c.cfg.VectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", c.cfg.VectorDim, len(vector)), nil)
	}
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if !filter.empty() {
		req["filter"] = filter
	}
	var raw []searchItem
	if err := c.doJSON(ctx, op, http.MethodPost, c.path("/points/search"), req, &raw); err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(raw))
	for _, item := range raw {
		out = append(out, ScoredPoint{
			ID:      decodePointID(item.ID),
			Score:   c.normalizeScore(item.Score),
			Payload: item.Payload,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// Delete removes every point matching filter. An empty filter is rejected.
func (c *Collection) Delete(ctx context.Context, filter Filter) error {
	const op = "delete"
	if filter.empty() {
		return opErr(op, OperationErrorValidation, "refusing to delete with empty filter", nil)
	}
	return c.doJSON(ctx, op, http.MethodPost, c.path("/points/delete?wait=true"), map[string]any{"filter": filter}, nil)
}

// Drop deletes the whole collection. Missing collections are not an error.
func (c *Collection) Drop(ctx context.Context) error {
	err := c.doJSON(ctx, "drop", http.MethodDelete, c.path(""), nil, nil)
	var oe *OperationError
	if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Collection) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if msg := parseEnvelopeStatus(env.Status); msg != "" {
		return &OperationError{Code: OperationErrorQueryFailed, Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (c *Collection) path(suffix string) string {
	return "/collections/" + c.cfg.Collection + suffix
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(s, "ok") || strings.EqualFold(s, "acknowledged") || strings.EqualFold(s, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", s)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return strings.TrimSpace(string(raw))
}

func (c *Collection) normalizeScore(score float64) float64 {
	switch c.cfg.Distance {
	case "Euclid", "Manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
