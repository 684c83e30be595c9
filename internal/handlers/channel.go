package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/learningequality/studio-sub002/internal/jobs"
	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/requestdata"
	"github.com/learningequality/studio-sub002/internal/services"
	"github.com/learningequality/studio-sub002/internal/temporalx"
)

type ChannelHandler struct {
	log         *logger.Logger
	tasks       repos.TaskRunRepo
	temporal    temporalsdkclient.Client
	publish     *services.PublishService
	submissions *services.SubmissionService
}

func NewChannelHandler(tasks repos.TaskRunRepo, temporal temporalsdkclient.Client, publish *services.PublishService, submissions *services.SubmissionService, log *logger.Logger) *ChannelHandler {
	return &ChannelHandler{
		log:         log.With("handler", "ChannelHandler"),
		tasks:       tasks,
		temporal:    temporal,
		publish:     publish,
		submissions: submissions,
	}
}

// Publish queues a publish run for the channel. With Temporal configured the
// run goes through the workflow; otherwise the task queue carries it.
func (ch *ChannelHandler) Publish(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	ctx := c.Request.Context()
	if ch.temporal != nil {
		err = temporalx.StartPublishWorkflow(ctx, ch.temporal, channelID.String())
	} else {
		err = jobs.EnqueuePublish(ctx, nil, ch.tasks, channelID)
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "publish_enqueue_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "channel_id": channelID.String()})
}

// CreateDraft exports an unversioned snapshot and returns its preview token.
// The cleartext token only exists in this response.
func (ch *ChannelHandler) CreateDraft(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	version, token, err := ch.publish.CreateDraftChannelVersion(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"version_info_id": version.ID.String(),
		"preview_token":   token,
	})
}

// SubmitToCommunityLibrary files a community library submission for one
// published version of the channel.
func (ch *ChannelHandler) SubmitToCommunityLibrary(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	var req struct {
		Version int `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	submission, err := ch.submissions.Submit(c.Request.Context(), channelID, req.Version)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"submission": submission})
}

// ResolveSubmission moves a submission to approved, live, or rejected.
// Admin only.
func (ch *ChannelHandler) ResolveSubmission(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || !rd.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := ch.submissions.Resolve(c.Request.Context(), submissionID, req.Status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}
