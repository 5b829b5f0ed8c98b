// recovery/session.go
package recovery

import "time"

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Session is one tracked unit of trading activity. Active sessions are
// included in every snapshot; completed ones are dropped from tracking.
type Session struct {
	ID            string                 `json:"id"`
	StartTime     time.Time              `json:"start_time"`
	Data          map[string]interface{} `json:"data"`
	Status        string                 `json:"status"`
	LastSnapshot  *time.Time             `json:"last_snapshot,omitempty"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	RecoveryCount int                    `json:"recovery_count"`
	LastRecovery  *time.Time             `json:"last_recovery,omitempty"`
}

func (s *Session) clone() *Session {
	out := *s
	if s.Data != nil {
		out.Data = make(map[string]interface{}, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return &out
}

func cloneSessions(in map[string]*Session) map[string]*Session {
	out := make(map[string]*Session, len(in))
	for id, sess := range in {
		out[id] = sess.clone()
	}
	return out
}
