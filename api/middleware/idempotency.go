package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/terminalpay/api/responses"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	pkgredis "github.com/angelmondragon/terminalpay/pkg/redis"
)

// DefaultReplayTTL outlives the payment window so a retried charge request
// sees the original answer rather than the order's processing conflict.
const DefaultReplayTTL = 10 * time.Minute

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type replayStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// replayEntry is stored under the key twice: once as a pending claim while
// the handler runs, then overwritten with the captured response.
type replayEntry struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type replayer struct {
	store replayStore
	keys  pkgredis.Keys
	ttl   time.Duration
	logg  *logger.Logger
}

// Idempotency makes POST requests carrying an Idempotency-Key header safe to
// retry. The first request claims the key; a concurrent duplicate gets 409
// and a later one receives the stored response. Server errors release the
// claim so the caller can try again.
func Idempotency(store replayStore, keys pkgredis.Keys, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	rp := &replayer{store: store, keys: keys, ttl: ttl, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if store == nil || clientKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			rp.serve(w, r, next, clientKey)
		})
	}
}

func (rp *replayer) serve(w http.ResponseWriter, r *http.Request, next http.Handler, clientKey string) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	hash := fingerprint(body)
	key := rp.keys.RequestReplay(requestScope(r), clientKey)

	claim, _ := json.Marshal(replayEntry{Pending: true, RequestHash: hash})
	claimed, err := rp.store.SetNX(ctx, key, string(claim), rp.ttl)
	if err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if !claimed {
		rp.replay(w, r, key, hash)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)

	// The response is already on the wire; persisting must not depend on the
	// client still listening.
	bg := context.WithoutCancel(ctx)
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := rp.store.Del(bg, key); err != nil {
			rp.logError(ctx, "release idempotency claim", err)
		}
		return
	}
	done, _ := json.Marshal(replayEntry{
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err := rp.store.Set(bg, key, string(done), rp.ttl); err != nil {
		rp.logError(ctx, "persist idempotency record", err)
	}
}

func (rp *replayer) replay(w http.ResponseWriter, r *http.Request, key, hash string) {
	ctx := r.Context()
	raw, err := rp.store.Get(ctx, key)
	switch {
	case errors.Is(err, pkgredis.ErrNil):
		// The claim expired between SETNX and GET.
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still in progress"))
		return
	case err != nil:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var entry replayEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case entry.RequestHash != hash:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different request body"))
	case entry.Pending:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still in progress"))
	default:
		if entry.ContentType != "" {
			w.Header().Set("Content-Type", entry.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(entry.Status)
		_, _ = w.Write(entry.Body)
	}
}

func (rp *replayer) logError(ctx context.Context, msg string, err error) {
	if rp.logg != nil {
		rp.logg.Error(ctx, msg, err)
	}
}

// requestScope keeps keys from colliding across cashiers and endpoints.
func requestScope(r *http.Request) string {
	return UserIDFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
