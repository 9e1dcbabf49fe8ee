package hub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/pkg/events"
)

// Channel name prefixes. Channel names encode their scope by convention.
const (
	ExecutionChannelPrefix = "execution_"
	TeamChannelPrefix      = "team_"
	UserChannelPrefix      = "user_"
)

// PublishExecutionEvent consumes one event from the execution engine
// and fans it out to the execution, team and user channels it belongs
// to. Implements events.Publisher.
func (r *Registry) PublishExecutionEvent(event *events.Event) {
	if event == nil || event.ExecutionID == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to encode execution event %s: %v", event.ExecutionID, err)
		return
	}

	channels := []string{ExecutionChannelPrefix + event.ExecutionID}
	if event.TeamID != "" {
		channels = append(channels, TeamChannelPrefix+event.TeamID)
	}
	if event.UserID != "" {
		channels = append(channels, UserChannelPrefix+event.UserID)
	}

	for _, name := range channels {
		frame := model.NewDataFrame(name, payload)
		if _, err := r.Broadcast(model.BroadcastTarget{Type: model.TargetChannel, ID: name}, frame); err != nil {
			log.Printf("Failed to broadcast execution event to %s: %v", name, err)
		}
	}
}
