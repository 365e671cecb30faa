// Package fanout republishes the battle store's change stream to NATS.
// One event goes to the session subject and to one subject per
// participant, so a client can watch either a single battle or
// everything involving a user. Publish failures are logged and dropped:
// the contract is at-most-once, and consumers reconcile by refetching.
package fanout

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/comm"
)

const (
	SessionSubjectPrefix = "battle.events.session."
	UserSubjectPrefix    = "battle.events.user."
)

// Publisher is the slice of a NATS connection the adapter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Adapter struct {
	pub     Publisher
	changes <-chan models.Change
}

func New(pub Publisher, changes <-chan models.Change) *Adapter {
	return &Adapter{pub: pub, changes: changes}
}

// Run consumes the change stream until ctx is cancelled. It runs on its
// own goroutine so the store's write path never waits on publishing.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-a.changes:
			if !ok {
				return
			}
			a.publish(c)
		}
	}
}

func (a *Adapter) publish(c models.Change) {
	ev := comm.BattleEvent{
		SessionID:     c.Session.ID,
		Status:        c.Session.Status,
		ChangedFields: c.ChangedFields,
		Timestamp:     c.Timestamp,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("unable to marshal battle event for session %s: %s", ev.SessionID, err)
		return
	}

	for _, subject := range subjects(c.Session) {
		if err := a.pub.Publish(subject, payload); err != nil {
			log.Errorf("Error publishing battle event to %s: %s", subject, err)
		}
	}
}

func subjects(b *models.BattleSession) []string {
	subs := []string{
		SessionSubjectPrefix + b.ID,
		UserSubjectPrefix + b.CreatorID,
	}
	if b.OpponentID != nil {
		subs = append(subs, UserSubjectPrefix+*b.OpponentID)
	}
	return subs
}
