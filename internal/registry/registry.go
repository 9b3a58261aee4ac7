// Package registry maps platform names to gateway sessions and tracks the
// session currently in use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/gateway"
	"github.com/tathienbao/tradegate/internal/persistence"
	"github.com/tathienbao/tradegate/internal/types"
)

// Resolver supplies the merged connection settings of a named account.
type Resolver interface {
	ResolveAccount(platform, account string) (types.ConnectionSettings, error)
}

// Journal is the subset of persistence.Journal the registry writes to.
type Journal interface {
	RecordSessionEvent(ctx context.Context, event persistence.SessionEvent) error
	SaveAccountSnapshot(ctx context.Context, snapshot persistence.AccountSnapshot) error
}

// Target names one account on one platform.
type Target struct {
	Platform string
	Account  string
}

// Status describes one registered platform.
type Status struct {
	Platform  string `json:"platform"`
	Account   string `json:"account,omitempty"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Current   bool   `json:"current"`
}

// Registry holds one session per platform. It is safe for concurrent use.
type Registry struct {
	resolver Resolver
	journal  Journal
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]gateway.Session
	accounts map[string]string // platform -> account last connected
	current  string
}

// Option configures a Registry.
type Option func(*Registry)

// WithJournal records connect outcomes, disconnects and snapshots to j.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// New creates an empty registry resolving account settings through resolver.
func New(resolver Resolver, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		resolver: resolver,
		logger:   logger.With("component", "registry"),
		sessions: make(map[string]gateway.Session),
		accounts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalize(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// Register adds a session under the lowercased platform name, replacing any
// earlier registration.
func (r *Registry) Register(platform string, session gateway.Session) {
	key := normalize(platform)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[key] = session
	r.logger.Info("registered trading platform", "platform", key)
}

// Platforms returns the registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect resolves the account settings and connects the platform's session.
// On success the session becomes current. A false, nil result means the
// readiness wait expired.
func (r *Registry) Connect(ctx context.Context, platform, account string) (bool, error) {
	key := normalize(platform)
	if _, err := r.lookup(key); err != nil {
		return false, err
	}
	if r.resolver == nil {
		return false, fmt.Errorf("%w: no account configuration for %s", types.ErrNotFound, key)
	}

	settings, err := r.resolver.ResolveAccount(key, account)
	if err != nil {
		return false, fmt.Errorf("resolve account %s/%s: %w", key, account, err)
	}

	return r.ConnectWith(ctx, key, account, settings)
}

// ConnectWith connects the platform's session with explicit settings.
// Switching a connected session to another account disconnects it first.
func (r *Registry) ConnectWith(ctx context.Context, platform, account string, settings types.ConnectionSettings) (bool, error) {
	key := normalize(platform)
	session, err := r.lookup(key)
	if err != nil {
		return false, err
	}

	// accounts tracks the last attempted account, ready or not, so a
	// session still waiting on another login is torn down before reuse.
	r.mu.Lock()
	previous, had := r.accounts[key]
	r.accounts[key] = account
	switching := had && previous != account
	if switching && r.current == key {
		r.current = ""
	}
	r.mu.Unlock()
	if switching && session.IsConnected() {
		r.logger.Info("switching account", "platform", key, "from", previous, "to", account)
		session.Disconnect()
		r.recordEvent(ctx, persistence.SessionEvent{Platform: key, Account: previous, Kind: persistence.EventDisconnect})
	}

	logger := r.logger.With("platform", key, "account", account)
	logger.Info("connecting", "settings", fmt.Sprintf("%+v", settings.Redacted()))

	start := time.Now()
	ok, err := session.Connect(ctx, settings)
	wait := time.Since(start)

	event := persistence.SessionEvent{
		Platform: key,
		Account:  account,
		Kind:     persistence.EventConnect,
		Wait:     wait,
	}
	switch {
	case err != nil:
		event.Outcome = persistence.OutcomeError
		event.Error = err.Error()
		logger.Error("connect failed", "err", err)
	case !ok:
		event.Outcome = persistence.OutcomeTimeout
		logger.Warn("connect timed out", "wait", wait)
	default:
		event.Outcome = persistence.OutcomeReady
		logger.Info("connected", "wait", wait)
	}
	r.recordEvent(ctx, event)

	if err != nil || !ok {
		return ok, err
	}

	r.mu.Lock()
	r.current = key
	r.mu.Unlock()

	return true, nil
}

// ConnectMany connects each named target in name order. The result maps every
// name to nil on success, ErrConnectionTimeout when the wait expired, or the
// connect error.
func (r *Registry) ConnectMany(ctx context.Context, targets map[string]Target) map[string]error {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]error, len(targets))
	for _, name := range names {
		t := targets[name]
		ok, err := r.Connect(ctx, t.Platform, t.Account)
		if err == nil && !ok {
			err = fmt.Errorf("%s/%s: %w", normalize(t.Platform), t.Account, types.ErrConnectionTimeout)
		}
		results[name] = err
	}
	return results
}

// Disconnect disconnects the current session and clears the current marker.
func (r *Registry) Disconnect(ctx context.Context) {
	r.mu.Lock()
	key := r.current
	session := r.sessions[key]
	account := r.accounts[key]
	r.current = ""
	delete(r.accounts, key)
	r.mu.Unlock()

	if session == nil {
		return
	}
	session.Disconnect()
	r.recordEvent(ctx, persistence.SessionEvent{Platform: key, Account: account, Kind: persistence.EventDisconnect})
	r.logger.Info("disconnected", "platform", key, "account", account)
}

// DisconnectAll disconnects every registered session.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make(map[string]gateway.Session, len(r.sessions))
	for k, s := range r.sessions {
		sessions[k] = s
	}
	accounts := r.accounts
	r.accounts = make(map[string]string)
	r.current = ""
	r.mu.Unlock()

	for key, session := range sessions {
		if session.State() == gateway.StateDisconnected {
			continue
		}
		session.Disconnect()
		r.recordEvent(ctx, persistence.SessionEvent{Platform: key, Account: accounts[key], Kind: persistence.EventDisconnect})
	}
}

// Session returns the named session, or the current one when platform is
// blank. It fails with ErrNotFound if neither exists.
func (r *Registry) Session(platform string) (gateway.Session, error) {
	key := normalize(platform)
	if key == "" {
		return r.Current()
	}
	return r.lookup(key)
}

// Current returns the current session.
func (r *Registry) Current() (gateway.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == "" {
		return nil, fmt.Errorf("%w: no current trading session", types.ErrNotFound)
	}
	return r.sessions[r.current], nil
}

// CurrentAccount returns the current platform and account name.
func (r *Registry) CurrentAccount() (platform, account string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == "" {
		return "", "", false
	}
	return r.current, r.accounts[r.current], true
}

// Statuses reports every registered platform in name order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.sessions))
	for name, s := range r.sessions {
		out = append(out, Status{
			Platform:  name,
			Account:   r.accounts[name],
			State:     s.State().String(),
			Connected: s.IsConnected(),
			Current:   name == r.current,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// SnapshotAccounts summarizes every connected session and journals each
// snapshot. Sessions that fail are skipped
// and their errors joined.
func (r *Registry) SnapshotAccounts(ctx context.Context) ([]alerting.AccountSummary, error) {
	r.mu.RLock()
	type entry struct {
		platform, account string
		session           gateway.Session
	}
	var entries []entry
	for name, s := range r.sessions {
		if s.IsConnected() {
			entries = append(entries, entry{name, r.accounts[name], s})
		}
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].platform < entries[j].platform })

	var summaries []alerting.AccountSummary
	var errs []error
	now := time.Now()

	for _, e := range entries {
		acct, err := e.session.GetAccountInfo(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s account: %w", e.platform, err))
			continue
		}
		if acct == nil {
			continue
		}
		positions, err := e.session.GetPositions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s positions: %w", e.platform, err))
			continue
		}

		summary := alerting.NewAccountSummary(now, e.platform, *acct, positions)
		summaries = append(summaries, summary)

		if r.journal != nil {
			snap := persistence.AccountSnapshot{
				Timestamp:     now,
				Platform:      e.platform,
				Account:       e.account,
				AccountID:     acct.AccountID,
				Balance:       acct.Balance,
				Available:     acct.Available,
				Frozen:        acct.Frozen,
				Margin:        acct.Margin,
				CloseProfit:   acct.CloseProfit,
				FloatingPnL:   summary.FloatingPnL,
				OpenPositions: summary.OpenPositions,
			}
			if err := r.journal.SaveAccountSnapshot(ctx, snap); err != nil {
				r.logger.Warn("failed to save account snapshot", "platform", e.platform, "err", err)
			}
		}
	}

	return summaries, errors.Join(errs...)
}

func (r *Registry) lookup(key string) (gateway.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported trading platform %q", types.ErrNotFound, key)
	}
	return s, nil
}

func (r *Registry) recordEvent(ctx context.Context, event persistence.SessionEvent) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordSessionEvent(ctx, event); err != nil {
		r.logger.Warn("failed to journal session event", "kind", event.Kind, "err", err)
	}
}
