package sync

import (
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/tree"
)

// Registry bundles the full handler set and the dispatcher built over it.
type Registry struct {
	Handlers   []Handler
	Dispatcher *Dispatcher
}

// NewRegistry wires every table handler in dispatch priority order.
func NewRegistry(db *gorm.DB, store *tree.Store, baseLog *logger.Logger) *Registry {
	users := repos.NewUserRepo(db, baseLog)
	channels := repos.NewChannelRepo(db, baseLog)
	nodes := repos.NewContentNodeRepo(db, baseLog)
	items := repos.NewAssessmentItemRepo(db, baseLog)
	files := repos.NewFileRepo(db, baseLog)
	editors := repos.NewChannelUserRepo(db, baseLog)
	changes := repos.NewChangeRepo(db, baseLog)
	submissions := repos.NewCommunitySubmissionRepo(db, baseLog)

	handlers := []Handler{
		NewUserHandler(users, baseLog),
		NewChannelHandler(store, channels, editors, submissions, baseLog),
		NewContentNodeHandler(store, nodes, baseLog),
		NewAssessmentItemHandler(items, nodes, baseLog),
		NewFileHandler(files, nodes, changes, baseLog),
		NewCaptionHandler(baseLog),
		NewEditorHandler(editors, channels, baseLog),
		NewInvitationHandler(baseLog),
		NewChannelSetHandler(baseLog),
		NewBookmarkHandler(baseLog),
		NewSavedSearchHandler(baseLog),
		NewClipboardHandler(store, nodes, users, baseLog),
	}
	return &Registry{
		Handlers:   handlers,
		Dispatcher: NewDispatcher(db, changes, handlers, baseLog),
	}
}
