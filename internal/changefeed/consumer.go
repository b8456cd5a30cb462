// Package changefeed bridges the substrate's recursive watch into a
// decoded event queue, handling the long-poll's timeout, history-gap
// and transport-error edge cases.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/metrics"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

const (
	longPollTimeout = 20 * time.Second
	indexRefreshTimeout = 1 * time.Second
)

// backoffSchedule is the increasing retry wait after consecutive
// transport failures: 0, 1, 3, 10s capped.
var backoffSchedule = []time.Duration{0, 1 * time.Second, 3 * time.Second, 10 * time.Second}

// Event is a decoded change-feed entry. Most events carry Action/Node
// values copied straight from the substrate's own payload; Skip is
// synthesised locally when a history gap is detected.
type Event struct {
	Action   string          `json:"action,omitempty"`
	Node     *substrate.Node `json:"node,omitempty"`
	PrevNode *substrate.Node `json:"prevNode,omitempty"`

	// Skip is set on the synthetic sentinel emitted after a history-gap
	// error, so downstream consumers can choose to resync subscribers.
	Skip *SkipInfo `json:"-"`
}

// SkipInfo describes the index range a history-gap sentinel jumped over.
type SkipInfo struct {
	From int64
	To   int64
}

// IsIndexSkip reports whether this event is the index_skip sentinel.
func (e Event) IsIndexSkip() bool { return e.Skip != nil }

// Consumer maintains a single long-poll against the substrate and
// drives a channel of decoded Events.
type Consumer struct {
	substrate *substrate.Client
	root      string
	events    chan Event

	// disconnectAll is invoked after three consecutive transport
	// failures, so the subscription manager can force every attached
	// socket to close and let clients resync on reconnect.
	disconnectAll func()

	// pollTimeout bounds each long-poll round trip; defaults to
	// longPollTimeout but shrunk in tests.
	pollTimeout time.Duration

	log *logrus.Entry
}

// New returns a Consumer watching root (normally substrate.ResourceRootKey).
// disconnectAll may be nil if the caller doesn't need the sustained-loss
// signal.
func New(sub *substrate.Client, root string, disconnectAll func(), log *logrus.Entry) *Consumer {
	if log == nil {
		log = logrus.WithField("component", "changefeed")
	}
	return &Consumer{
		substrate:     sub,
		root:          root,
		events:        make(chan Event, 256),
		disconnectAll: disconnectAll,
		pollTimeout:   longPollTimeout,
		log:           log,
	}
}

// Events returns the channel of decoded events. Closed when Run returns.
func (c *Consumer) Events() <-chan Event { return c.events }

// Run drives the long-poll loop until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.events)

	waitIndex := int64(0)
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := c.substrate.WatchOnce(ctx, c.root, waitIndex+1, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// The long poll's own deadline elapsed with no
				// modification: an ordinary quiet period, not a
				// transport failure. No penalty, just resume from a
				// freshly refreshed index.
				newIndex, ierr := c.refreshIndex()
				if ierr != nil {
					c.log.WithError(ierr).Warn("failed to refresh index after long-poll timeout")
					continue
				}
				if newIndex < waitIndex {
					c.log.WithFields(logrus.Fields{"from": waitIndex, "to": newIndex}).Warn("substrate index decreased")
				}
				waitIndex = newIndex
				continue
			}
			consecutiveFailures++
			c.log.WithError(err).Warn("change-feed transport error")
			if consecutiveFailures >= 3 && c.disconnectAll != nil {
				c.log.Warn("sustained change-feed loss; disconnecting all subscribers")
				c.disconnectAll()
			}
			if !sleepWithContext(ctx, backoffDelay(consecutiveFailures)) {
				return
			}
			continue
		}
		if consecutiveFailures > 0 {
			metrics.ChangeFeedReconnects.Inc()
		}
		consecutiveFailures = 0

		switch {
		case resp.StatusCode == 200 && resp.Node != nil:
			waitIndex = resp.Node.ModifiedIndex
			c.emit(ctx, Event{Action: resp.Action, Node: resp.Node, PrevNode: resp.PrevNode})

		case resp.ErrorCode == substrate.ErrorCodeEventIndexGone:
			newIndex, ierr := c.substrate.Index(c.root)
			if ierr != nil {
				c.log.WithError(ierr).Warn("failed to refresh index after history gap")
				newIndex = 0
			}
			c.log.WithFields(logrus.Fields{"from": waitIndex, "to": newIndex}).Warn("substrate history not available; skipping")
			metrics.ChangeFeedIndexSkips.Inc()
			c.emit(ctx, Event{Skip: &SkipInfo{From: waitIndex, To: newIndex}})
			waitIndex = newIndex

		default:
			// Any other non-fatal response body (no node, no
			// recognised error code): refresh the index from the root
			// rather than guess at waitIndex.
			newIndex, ierr := c.refreshIndex()
			if ierr != nil {
				c.log.WithError(ierr).Warn("failed to refresh index after timeout")
				continue
			}
			if newIndex < waitIndex {
				c.log.WithFields(logrus.Fields{"from": waitIndex, "to": newIndex}).Warn("substrate index decreased")
			}
			waitIndex = newIndex
		}
	}
}

func (c *Consumer) refreshIndex() (int64, error) {
	return c.substrate.Index(c.root)
}

func (c *Consumer) emit(ctx context.Context, e Event) {
	select {
	case c.events <- e:
	case <-ctx.Done():
	}
}

func backoffDelay(consecutiveFailures int) time.Duration {
	idx := consecutiveFailures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// DecodeValue is a convenience used by the subscription manager to pull
// the JSON body out of a Node.
func DecodeValue(n *substrate.Node) (map[string]interface{}, error) {
	if n == nil || n.Value == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(n.Value), &out); err != nil {
		return nil, err
	}
	return out, nil
}
