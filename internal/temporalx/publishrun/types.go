package publishrun

const (
	WorkflowName    = "channel_publish"
	ActivityPublish = "channel_publish_increment"
	ActivityAudit   = "channel_version_audit"
)

// Input carries the workflow argument; the workflow id itself is
// "publish:<channel_id>" so concurrent publishes of one channel collapse.
type Input struct {
	ChannelID string `json:"channel_id"`
}

type PublishResult struct {
	Version int `json:"version"`
}
