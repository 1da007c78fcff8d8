package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"blockpilot/engine/internal/egress"
	"blockpilot/engine/internal/logging"
)

// Batch insert/delete endpoints appeared in kernel 3.1.
const batchCapableMajor = 3
const batchCapableMinor = 1

// KernelClient talks to the host document kernel over its JSON POST API.
type KernelClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	probeOnce sync.Once
	caps      Capabilities
	probeErr  error
}

func NewKernelClient(baseURL string, logger *slog.Logger) *KernelClient {
	if logger == nil {
		logger = logging.Nop()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	transport := egress.NewLocalRoundTripper(http.DefaultTransport, nil)
	return &KernelClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger,
	}
}

func (c *KernelClient) GetUnit(ctx context.Context, id string) (Unit, error) {
	if !ValidID(id) {
		return Unit{}, ErrInvalidID
	}
	body, err := c.post(ctx, "/api/unit/get", map[string]any{"id": id})
	if err != nil {
		return Unit{}, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Get("id").String() == "" {
		return Unit{}, ErrNotFound
	}
	return Unit{
		ID:      data.Get("id").String(),
		Content: data.Get("content").String(),
		Type:    data.Get("type").String(),
		Subtype: data.Get("subtype").String(),
	}, nil
}

func (c *KernelClient) QueryUnitsAfter(ctx context.Context, rootID string, limit int) ([]Unit, error) {
	return c.query(ctx, rootID, "next", limit)
}

func (c *KernelClient) QueryUnitsBefore(ctx context.Context, rootID string, limit int) ([]Unit, error) {
	return c.query(ctx, rootID, "prev", limit)
}

func (c *KernelClient) query(ctx context.Context, rootID, direction string, limit int) ([]Unit, error) {
	if !ValidID(rootID) {
		return nil, ErrInvalidID
	}
	body, err := c.post(ctx, "/api/unit/query", map[string]any{
		"root":      rootID,
		"direction": direction,
		"sort_key":  "document",
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	var units []Unit
	gjson.GetBytes(body, "data").ForEach(func(_, value gjson.Result) bool {
		units = append(units, Unit{
			ID:      value.Get("id").String(),
			Content: value.Get("content").String(),
			Type:    value.Get("type").String(),
			Subtype: value.Get("subtype").String(),
		})
		return true
	})
	return units, nil
}

func (c *KernelClient) InsertUnit(ctx context.Context, content, anchorID string) (string, error) {
	if !ValidID(anchorID) {
		return "", ErrInvalidID
	}
	body, err := c.post(ctx, "/api/unit/insert", map[string]any{
		"content": content,
		"anchor":  anchorID,
	})
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "data.id").String()
	if id == "" {
		return "", fmt.Errorf("kernel insert returned no id")
	}
	return id, nil
}

func (c *KernelClient) BatchInsertUnits(ctx context.Context, contents []string, anchorID string) ([]string, error) {
	if !ValidID(anchorID) {
		return nil, ErrInvalidID
	}
	body, err := c.post(ctx, "/api/unit/batch_insert", map[string]any{
		"contents": contents,
		"anchor":   anchorID,
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	gjson.GetBytes(body, "data.ids").ForEach(func(_, value gjson.Result) bool {
		ids = append(ids, value.String())
		return true
	})
	if len(ids) != len(contents) {
		return nil, fmt.Errorf("kernel batch insert returned %d ids for %d contents", len(ids), len(contents))
	}
	return ids, nil
}

func (c *KernelClient) DeleteUnit(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	_, err := c.post(ctx, "/api/unit/delete", map[string]any{"id": id})
	return err
}

func (c *KernelClient) BatchDeleteUnits(ctx context.Context, ids []string) error {
	if !ValidIDs(ids) {
		return ErrInvalidID
	}
	_, err := c.post(ctx, "/api/unit/batch_delete", map[string]any{"ids": ids})
	return err
}

func (c *KernelClient) UpdateUnit(ctx context.Context, id, content string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	_, err := c.post(ctx, "/api/unit/update", map[string]any{"id": id, "content": content})
	return err
}

// Capabilities probes the kernel version once and caches the answer.
func (c *KernelClient) Capabilities(ctx context.Context) (Capabilities, error) {
	c.probeOnce.Do(func() {
		body, err := c.post(ctx, "/api/system/version", map[string]any{})
		if err != nil {
			c.probeErr = err
			return
		}
		version := gjson.GetBytes(body, "data").String()
		batch := versionAtLeast(version, batchCapableMajor, batchCapableMinor)
		c.caps = Capabilities{BatchInsert: batch, BatchDelete: batch}
		c.logger.Debug("store.capabilities_probed", "version", version, "batch", batch)
	})
	return c.caps, c.probeErr
}

func versionAtLeast(version string, major, minor int) bool {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	if len(parts) < 2 {
		return false
	}
	gotMajor, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	gotMinor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	if gotMajor != major {
		return gotMajor > major
	}
	return gotMinor >= minor
}

func (c *KernelClient) post(ctx context.Context, path string, params map[string]any) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kernel error: %s - %s", resp.Status, string(errorBody))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(body, "code"); code.Exists() && code.Int() != 0 {
		msg := gjson.GetBytes(body, "msg").String()
		if strings.Contains(strings.ToLower(msg), "not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kernel error code %d: %s", code.Int(), msg)
	}
	return body, nil
}
