package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"infracontrol/internal/integrations/discord"
	"infracontrol/internal/models"
	"infracontrol/internal/utils"
)

// Discord accepts at most 10 embeds per message.
const maxEmbedsPerMessage = 10

const notifyTimeout = 10 * time.Second

// Poster delivers a webhook payload.
type Poster interface {
	Post(ctx context.Context, payload discord.WebhookPayload) error
}

// StatusNotifier posts a Discord message whenever a server, website or the
// cluster quorum changes state between two observed snapshots.
type StatusNotifier struct {
	poster Poster
	log    *utils.Logger

	mu   sync.Mutex
	prev *models.Snapshot
}

func NewStatusNotifier(poster Poster, log *utils.Logger) *StatusNotifier {
	return &StatusNotifier{poster: poster, log: log}
}

// Observe compares snap with the previously observed snapshot and posts the
// differences. The first snapshot only sets the baseline.
func (n *StatusNotifier) Observe(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	n.mu.Lock()
	prev := n.prev
	n.prev = snap
	n.mu.Unlock()
	if prev == nil {
		return
	}

	embeds := StatusChanges(prev, snap)
	for start := 0; start < len(embeds); start += maxEmbedsPerMessage {
		end := start + maxEmbedsPerMessage
		if end > len(embeds) {
			end = len(embeds)
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := n.poster.Post(ctx, discord.WebhookPayload{Username: "InfraControl", Embeds: embeds[start:end]})
		cancel()
		if err != nil {
			n.log.Warn().Err(err).Msg("discord notify failed")
			return
		}
	}
}

// StatusChanges lists one embed per state transition, in server, cluster,
// website order. Entries missing from either snapshot are ignored.
func StatusChanges(prev, next *models.Snapshot) []discord.Embed {
	var embeds []discord.Embed
	footer := "Updated " + next.LastUpdated

	before := make(map[string]string, len(prev.Servers))
	for _, s := range prev.Servers {
		before[s.ID] = s.Status
	}
	for _, s := range next.Servers {
		old, ok := before[s.ID]
		if !ok || old == s.Status {
			continue
		}
		color := discord.ColorGreen
		if !s.Online() {
			color = discord.ColorRed
		}
		embeds = append(embeds, discord.NewEmbed(
			fmt.Sprintf("Server %s is %s", s.ID, s.Status),
			fmt.Sprintf("%s (%s) changed from %s to %s.", displayName(s.Hostname, s.ID), s.IP, old, s.Status),
			color, footer))
	}

	if prev.Cluster.Quorum != next.Cluster.Quorum {
		title, color := "Cluster quorum restored", discord.ColorGreen
		if !next.Cluster.Quorum {
			title, color = "Cluster Quorum Lost!", discord.ColorRed
		}
		embeds = append(embeds, discord.NewEmbed(title,
			fmt.Sprintf("%d of %d nodes online, %d required.", next.Cluster.OnlineCount, len(next.Cluster.Nodes), next.Cluster.QuorumRequired),
			color, footer))
	}

	sites := make(map[string]string, len(prev.Websites))
	for _, w := range prev.Websites {
		sites[w.Domain] = w.Status
	}
	for _, w := range next.Websites {
		old, ok := sites[w.Domain]
		if !ok || old == w.Status {
			continue
		}
		color := discord.ColorGreen
		if w.Status != models.StatusOnline {
			color = discord.ColorAmber
		}
		embeds = append(embeds, discord.NewEmbed(
			fmt.Sprintf("Website %s is %s", w.Domain, w.Status),
			fmt.Sprintf("Changed from %s to %s.", old, w.Status),
			color, footer))
	}
	return embeds
}

func displayName(hostname, id string) string {
	if hostname != "" {
		return hostname
	}
	return id
}

// asyncListener hands snapshots to fn on its own goroutine so slow
// integrations never hold up the poll loop. Only the latest pending
// snapshot is kept.
type asyncListener struct {
	fn      Listener
	log     *utils.Logger
	pending chan *models.Snapshot
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newAsyncListener(fn Listener, log *utils.Logger) *asyncListener {
	a := &asyncListener{
		fn:      fn,
		log:     log,
		pending: make(chan *models.Snapshot, 1),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *asyncListener) loop() {
	defer a.wg.Done()
	for {
		select {
		case snap := <-a.pending:
			a.deliver(snap)
		case <-a.done:
			return
		}
	}
}

// deliver runs fn once; a panic is logged and the loop keeps serving.
func (a *asyncListener) deliver(snap *models.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("snapshot listener panicked")
		}
	}()
	a.fn(snap)
}

// Offer queues snap, replacing any snapshot not yet delivered.
func (a *asyncListener) Offer(snap *models.Snapshot) {
	for {
		select {
		case a.pending <- snap:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

func (a *asyncListener) Close() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}
