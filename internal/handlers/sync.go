package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/requestdata"
	syncpkg "github.com/learningequality/studio-sub002/internal/sync"
)

// SyncHandler is the HTTP submission path for change batches. Unlike the
// websocket, it applies the batch synchronously and reports per-change
// outcomes in the response.
type SyncHandler struct {
	log        *logger.Logger
	intake     *syncpkg.Intake
	dispatcher *syncpkg.Dispatcher
}

func NewSyncHandler(intake *syncpkg.Intake, dispatcher *syncpkg.Dispatcher, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		log:        log.With("handler", "SyncHandler"),
		intake:     intake,
		dispatcher: dispatcher,
	}
}

type revPair struct {
	Rev       *int64 `json:"rev"`
	ServerRev int64  `json:"server_rev"`
}

// Submit accepts a change batch, persists the allowed part, and replays it.
// Full success returns 200 with no body; a mix of outcomes returns 207 with
// the failures embedded; a batch where nothing applied returns 400.
func (sh *SyncHandler) Submit(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var req struct {
		Changes []json.RawMessage `json:"changes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()

	res, err := sh.intake.Submit(ctx, rd.UserID, req.Changes)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "sync_persist_failed", err)
		return
	}

	batchErrors, err := sh.applyBatch(ctx, rd.UserID, res)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "sync_apply_failed", err)
		return
	}

	errored := map[int64]bool{}
	for _, ce := range batchErrors {
		errored[ce.ServerRev] = true
	}
	var allowed []revPair
	applied := 0
	for i, change := range res.Persisted {
		allowed = append(allowed, revPair{Rev: res.PersistedRevs[i], ServerRev: change.ServerRev})
		if !errored[change.ServerRev] {
			applied++
		}
	}

	if len(res.Disallowed) == 0 && len(batchErrors) == 0 {
		c.Status(http.StatusOK)
		return
	}
	status := http.StatusMultiStatus
	if applied == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"allowed":    allowed,
		"disallowed": res.Disallowed,
		"errors":     batchErrors,
	})
}

// applyBatch drains every scope the batch touched and keeps only the errors
// belonging to this batch's server revs. Scopes hold independent advisory
// locks, so their drains run in parallel.
func (sh *SyncHandler) applyBatch(ctx context.Context, userID uuid.UUID, res *syncpkg.IntakeResult) ([]syncpkg.ChangeError, error) {
	mine := map[int64]bool{}
	for _, change := range res.Persisted {
		mine[change.ServerRev] = true
	}

	var (
		mu  sync.Mutex
		out []syncpkg.ChangeError
	)
	collect := func(result *syncpkg.Result) {
		mu.Lock()
		defer mu.Unlock()
		for _, ce := range result.Errors {
			if mine[ce.ServerRev] {
				out = append(out, ce)
			}
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	for channelID := range res.ChannelRevs() {
		channelID := channelID
		g.Go(func() error {
			for {
				result, err := sh.dispatcher.DispatchChannel(gCtx, channelID)
				if err != nil {
					return err
				}
				collect(result)
				if result.Drained {
					return nil
				}
			}
		})
	}
	if res.HasUserScoped() {
		g.Go(func() error {
			for {
				result, err := sh.dispatcher.DispatchUser(gCtx, userID)
				if err != nil {
					return err
				}
				collect(result)
				if result.Drained {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
