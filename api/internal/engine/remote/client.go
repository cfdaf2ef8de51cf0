// Package remote talks to the media-relay processing service over HTTP.
//
// Client is both an OCR and a transcription backend. The first analysis of
// a blob uploads it; the service-side id is then cached by content hash so
// repeated commands on the same artifact only call the analyse endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/media"
)

// maxCachedIDs bounds the service-id cache; the oldest entry goes first.
const maxCachedIDs = 4096

type Client struct {
	baseURL string
	httpc   *http.Client

	mu    sync.Mutex
	ids   map[string]string
	order []string

	uploads singleflight.Group
}

var (
	_ engine.Recognizer  = (*Client)(nil)
	_ engine.Transcriber = (*Client)(nil)
)

// New returns a client for the service at baseURL. Per-call deadlines come
// from the caller's context; the http.Client timeout is only a backstop.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Minute},
		ids:     make(map[string]string),
	}
}

func (c *Client) Name() string { return "remote" }

// StatusError is a non-200 reply from the service.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string { return fmt.Sprintf("repl %d: %s", e.Code, e.Msg) }

type healthResponse struct {
	Status string `json:"status"`
}

// Health returns the status string reported by GET /health.
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var out healthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		out.Status = "unknown"
	}
	return out.Status, nil
}

type uploadResponse struct {
	PhotoID  string `json:"photo_id"`
	AudioID  string `json:"audio_id"`
	Filename string `json:"filename"`
}

type analyseResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// errorResponse covers both our own {"error","reason"} bodies and
// FastAPI-style {"detail"} bodies.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

func (c *Client) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	var out analyseResponse
	if err := c.analyse(ctx, media.Photo, image, &out); err != nil {
		return engine.Recognition{}, err
	}
	return engine.Recognition{Text: strings.TrimSpace(out.Text), Confidence: out.Confidence}, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte) (engine.Transcription, error) {
	var out analyseResponse
	if err := c.analyse(ctx, media.Voice, audio, &out); err != nil {
		return engine.Transcription{}, err
	}
	return engine.Transcription{Text: strings.TrimSpace(out.Text)}, nil
}

// analyse asks the service to process data, uploading it first unless the
// service already holds the same bytes for the same owner.
func (c *Client) analyse(ctx context.Context, kind media.Kind, data []byte, out any) error {
	owner := engine.OwnerFrom(ctx)
	sum := blake3.Sum256(data)
	key := fmt.Sprintf("%d/%d/%s", kind, owner, hex.EncodeToString(sum[:]))

	id, err := c.serviceID(ctx, key, kind, owner, data)
	if err != nil {
		return err
	}
	err = c.getJSON(ctx, analysePath(kind, id), out)

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		// The service lost the upload (restart or purge): send it again once.
		c.forget(key)
		if id, err = c.serviceID(ctx, key, kind, owner, data); err != nil {
			return err
		}
		err = c.getJSON(ctx, analysePath(kind, id), out)
	}
	return err
}

func analysePath(kind media.Kind, id string) string {
	if kind == media.Voice {
		return "/audio/" + url.PathEscape(id) + "/transcribe"
	}
	return "/photos/" + url.PathEscape(id) + "/analyse/ocr"
}

// serviceID returns the cached service id for key, uploading at most once
// per key even under concurrent callers.
func (c *Client) serviceID(ctx context.Context, key string, kind media.Kind, owner media.UserID, data []byte) (string, error) {
	if id, ok := c.lookup(key); ok {
		return id, nil
	}
	v, err, _ := c.uploads.Do(key, func() (any, error) {
		if id, ok := c.lookup(key); ok {
			return id, nil
		}
		id, err := c.upload(ctx, kind, owner, data)
		if err != nil {
			return "", err
		}
		c.remember(key, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[key]
	return id, ok
}

func (c *Client) remember(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[key]; !ok {
		c.order = append(c.order, key)
	}
	c.ids[key] = id
	for len(c.order) > maxCachedIDs {
		delete(c.ids, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Client) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) upload(ctx context.Context, kind media.Kind, owner media.UserID, data []byte) (string, error) {
	path, filename, contentType := "/photos/upload", "photo.jpg", "image/jpeg"
	if kind == media.Voice {
		path, filename, contentType = "/audio/upload", "voice.ogg", "audio/ogg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if owner != 0 {
		if err := mw.WriteField("owner", strconv.FormatInt(int64(owner), 10)); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var up uploadResponse
	if err := c.do(req, &up); err != nil {
		return "", err
	}
	if kind == media.Voice {
		if up.AudioID == "" {
			return "", errors.New("upload: empty audio_id")
		}
		return up.AudioID, nil
	}
	if up.PhotoID == "" {
		return "", errors.New("upload: empty photo_id")
	}
	return up.PhotoID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a non-200 reply into an error. A reason reported by the
// service is preserved as an *engine.Failure so it survives the hop.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	msg := strings.TrimSpace(er.Error)
	if msg == "" {
		msg = strings.TrimSpace(er.Detail)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	err := &StatusError{Code: resp.StatusCode, Msg: msg}

	switch engine.Reason(er.Reason) {
	case engine.ReasonTimeout, engine.ReasonEmpty, engine.ReasonUnsupported, engine.ReasonCrashed, engine.ReasonEngine:
		return &engine.Failure{Reason: engine.Reason(er.Reason), Err: err}
	}
	return err
}
