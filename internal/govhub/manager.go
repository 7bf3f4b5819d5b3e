// Package govhub owns the governance state of every followed community. All
// mutations go through one ManagerService: inbound events from the relay
// feed and local write intents are applied under a single lock, and
// observers read consistent snapshots.
package govhub

import (
	"agora/backend/internal/config"
	"agora/backend/internal/keys"
	"agora/backend/internal/models"
	"agora/backend/internal/modlog"
	"agora/backend/internal/permission"
	"agora/backend/internal/reconciler"
	"agora/backend/internal/relay"
	"agora/backend/internal/storage"
	"agora/backend/internal/tally"
	"agora/backend/internal/validator"
	"context"
	"log"
	"sync"
	"time"
)

// Notifier receives terminal kick outcomes and new moderation entries.
type Notifier interface {
	KickResolved(kp models.KickProposal, c models.Community)
	ModerationLogged(entry models.ModerationLogEntry)
}

// Listener is called with a fresh snapshot after every state change.
type Listener func(Snapshot)

// Options wires a ManagerService. Transport and Signer are required for
// write intents; Storage and Notifier are optional.
type Options struct {
	Transport relay.Transport
	Signer    keys.Signer
	Storage   storage.Storage
	Notifier  Notifier
	Validator *validator.Validator
	Resolver  *permission.Resolver

	// CountNonMembers counts votes from pubkeys outside the community.
	CountNonMembers bool
	OrphanLimit     int
	OrphanWindow    time.Duration
}

type ManagerService struct {
	IncomingCh chan models.Event

	transport       relay.Transport
	signer          keys.Signer
	storage         storage.Storage
	notifier        Notifier
	validator       *validator.Validator
	resolver        *permission.Resolver
	countNonMembers bool

	mu          sync.Mutex
	reconciler  *reconciler.Reconciler
	modlog      *modlog.Log
	communities map[string]*communityState
	proposals   map[string]*models.Proposal
	kicks       map[string]*models.KickProposal
	tallies     map[string]tally.Result
	comments    map[string][]Comment
	invites     map[string]*models.InviteLink
	follows     map[string]*follow
	version     uint64

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	Now func() time.Time
}

type follow struct {
	subIDs []string
	// watched holds the proposal ids with their own vote subscription.
	watched map[string]bool
}

func NewManagerService(opts Options) *ManagerService {
	v := opts.Validator
	if v == nil {
		v = validator.New(true)
	}
	r := opts.Resolver
	if r == nil {
		r = permission.NewResolver(permission.DefaultPolicy(), nil)
	}
	var store modlog.Store
	if opts.Storage != nil {
		store = opts.Storage
	}
	m := &ManagerService{
		IncomingCh:      make(chan models.Event, 1024),
		transport:       opts.Transport,
		signer:          opts.Signer,
		storage:         opts.Storage,
		notifier:        opts.Notifier,
		validator:       v,
		resolver:        r,
		countNonMembers: opts.CountNonMembers,
		reconciler:      reconciler.New(opts.OrphanLimit, opts.OrphanWindow),
		modlog:          modlog.New(store),
		communities:     make(map[string]*communityState),
		proposals:       make(map[string]*models.Proposal),
		kicks:           make(map[string]*models.KickProposal),
		tallies:         make(map[string]tally.Result),
		comments:        make(map[string][]Comment),
		invites:         make(map[string]*models.InviteLink),
		follows:         make(map[string]*follow),
		listeners:       make(map[int]Listener),
		Now:             time.Now,
	}
	// Orphans age on the same clock Tick sweeps with.
	m.reconciler.Now = m.now
	return m
}

// PublicKey is the identity local write intents are signed with.
func (m *ManagerService) PublicKey() string {
	if m.signer == nil {
		return ""
	}
	return m.signer.PublicKey()
}

// Run applies incoming events and periodic expiry until ctx is done.
func (m *ManagerService) Run(ctx context.Context) {
	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-m.IncomingCh:
			m.HandleEvent(evt)
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}

// enqueue is the transport callback. It may be called from any goroutine.
func (m *ManagerService) enqueue(evt models.Event) {
	m.IncomingCh <- evt
}

// HandleEvent validates, reconciles and applies one event and reports
// whether it was accepted. Invalid events are logged and dropped.
func (m *ManagerService) HandleEvent(evt models.Event) bool {
	fx := &effects{}
	m.mu.Lock()
	accepted := m.ingest(evt, fx)
	m.mu.Unlock()
	m.flush(fx)
	return accepted
}

// Tick resolves proposals whose voting period ended and drops orphans that
// waited too long.
func (m *ManagerService) Tick(now time.Time) {
	fx := &effects{}
	m.mu.Lock()
	for _, p := range m.proposals {
		if p.Status == models.StatusActive {
			m.evaluateProposal(p, now.Unix(), fx)
		}
	}
	for _, kp := range m.kicks {
		if kp.Status == models.StatusActive {
			m.evaluateKick(kp, now.Unix(), fx)
		}
	}
	m.reconciler.Sweep(now)
	m.mu.Unlock()
	m.flush(fx)
}

// Restore warms the engine from the event cache and persisted read models.
func (m *ManagerService) Restore(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}
	entries, err := m.storage.ListModerationEntries(ctx, "", 0)
	if err != nil {
		return err
	}
	m.modlog.Restore(entries)

	invites, err := m.storage.ListInvites(ctx, "")
	if err != nil {
		return err
	}
	events, err := m.storage.LoadEvents(ctx, governanceKinds, 0)
	if err != nil {
		return err
	}

	fx := &effects{restoring: true}
	m.mu.Lock()
	for i := range invites {
		inv := invites[i]
		m.invites[inv.ID] = &inv
	}
	for _, evt := range events {
		m.ingest(evt, fx)
	}
	m.mu.Unlock()
	m.flush(fx)
	log.Printf("INFO: restored %d events, %d moderation entries, %d invites", len(events), len(entries), len(invites))
	return nil
}

var governanceKinds = []int{
	models.KindCommunity,
	models.KindProposal,
	models.KindVote,
	models.KindComment,
	models.KindModeration,
	models.KindDeletion,
}

// Stats exposes the reconciler counters.
func (m *ManagerService) Stats() reconciler.Stats {
	return m.reconciler.Stats()
}

func (m *ManagerService) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
