// Package cli drives the supervisor from the terminal: the connect loop
// over relay candidates, the throughput self-test, and history output.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/yllada/relayhop/common"
	"github.com/yllada/relayhop/config"
	"github.com/yllada/relayhop/keyring"
	"github.com/yllada/relayhop/relay"
	"github.com/yllada/relayhop/store"
	"github.com/yllada/relayhop/vpn"
)

// cacheMaxAge bounds how stale a cached directory feed may be when the
// live fetch fails.
const cacheMaxAge = 24 * time.Hour

// App wires the supervisor loop together: configuration, history store,
// and the process-wide readiness and reload subscriptions.
type App struct {
	cfg   *config.Config
	db    *store.Store
	latch *vpn.ReloadLatch
	ready <-chan struct{}
	stops []func()
}

// New builds the application. A history store failure is logged and
// tolerated; the connect loop works without history.
func New(cfg *config.Config) *App {
	app := &App{cfg: cfg, latch: vpn.NewReloadLatch()}

	db, err := store.OpenDefault()
	if err != nil {
		common.LogWarn("history store unavailable: %v", err)
	} else {
		app.db = db
	}

	ready, stopReady := vpn.NotifyReadiness()
	app.ready = ready
	app.stops = append(app.stops, stopReady, vpn.NotifyReload(app.latch))
	return app
}

// Close releases signal subscriptions and the history store.
func (a *App) Close() {
	for _, stop := range a.stops {
		stop()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Run executes the supervisor loop until cancellation: discover
// candidates, filter, and walk them sequentially, one session at a time.
// singleFile, when non-empty, replaces directory discovery with one local
// tunnel configuration. Returns nil on a user-initiated stop.
func (a *App) Run(ctx context.Context, singleFile string) error {
	authPath, err := a.prepareAuth()
	if err != nil {
		return err
	}
	if authPath != "" {
		defer os.Remove(authPath)
	}

	for ctx.Err() == nil {
		cands, err := a.discover(ctx, singleFile)
		if err != nil {
			return err
		}

		restart, err := a.walkCandidates(ctx, cands, authPath)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		common.LogInfo("restarting candidate cycle")
	}
	return nil
}

// walkCandidates runs sessions over the pool in order. restart reports
// whether the loop should rebuild the pool and go again.
func (a *App) walkCandidates(ctx context.Context, cands []*relay.Candidate, authPath string) (restart bool, err error) {
	for _, cand := range cands {
		if ctx.Err() != nil {
			return false, nil
		}

		common.LogInfo("trying relay %s (%s)", cand.Label(), cand.Endpoint())
		session := a.buildSession(cand, authPath)

		started := time.Now()
		res, runErr := session.Run(ctx)
		a.record(session, res, started)

		switch res {
		case vpn.ResultCancelled:
			return false, nil
		case vpn.ResultEstablished:
			if ctx.Err() != nil {
				return false, nil
			}
			// The tunnel ran and died (health failure or reload
			// teardown); rebuild the pool and start over.
			return true, nil
		default:
			if errors.Is(runErr, common.ErrFirewallSetup) {
				return false, common.WrapError(runErr, "aborting: firewall could not be established")
			}
			common.LogWarn("relay %s failed: %v", cand.Label(), runErr)
		}
	}
	return false, fmt.Errorf("no usable relay: all %d candidates exhausted", len(cands))
}

func (a *App) buildSession(cand *relay.Candidate, authPath string) *vpn.Session {
	var guard *vpn.Guard
	if a.cfg.Firewall {
		guard = vpn.NewGuard(nil)
	}

	s := &vpn.Session{
		ID: uuid.NewString(),
		Candidate: cand,
		Launcher: &vpn.Launcher{
			OpenVPNPath:     a.cfg.OpenVPNPath,
			NamespaceHelper: a.cfg.NamespaceHelper,
			Namespace:       a.cfg.Namespace,
			LogSink:         common.GetLogger().Writer(),
		},
		Terminator:      vpn.NewTerminator(),
		Meter:           &vpn.Meter{URL: a.cfg.TestURL, Timeout: common.MeasureTimeout},
		Latch:           a.latch,
		Ready:           a.ready,
		TunnelInterface: a.cfg.TunnelInterface,
		ReadyTimeout:    a.cfg.ReadyTimeout(),
		MonitorInterval: a.cfg.MonitorInterval(),
		HealthFloor:     a.cfg.HealthFloor(),
		AuthPath:        authPath,
	}
	if guard != nil {
		s.Guard = guard
	}
	return s
}

// discover builds the candidate pool: directory fetch (with cache
// fallback) or a single local file, then the geography and reachability
// filters.
func (a *App) discover(ctx context.Context, singleFile string) ([]*relay.Candidate, error) {
	var cands []*relay.Candidate
	var err error

	if singleFile != "" {
		cand, err := relay.LoadFile(singleFile)
		if err != nil {
			return nil, err
		}
		return []*relay.Candidate{cand}, nil
	}

	cands, err = a.fetchDirectory(ctx)
	if err != nil {
		return nil, err
	}
	common.LogInfo("directory: %d candidates", len(cands))

	cands = relay.FilterGeography(cands, relay.GeoCriteria{
		Europe:    a.cfg.Europe,
		Countries: a.cfg.Countries,
	})
	common.LogInfo("geography filter: %d candidates remain", len(cands))

	cands = relay.FilterReachable(cands, a.cfg.ProbeConcurrency, a.cfg.ProbeTimeout())
	if len(cands) == 0 {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, "no candidates survived filtering")
	}
	return cands, nil
}

// fetchDirectory fetches the live feed, caching it on success and falling
// back to a recent cached copy when the fetch fails.
func (a *App) fetchDirectory(ctx context.Context) ([]*relay.Candidate, error) {
	body, err := relay.FetchFeed(ctx, a.cfg.DirectoryURL)
	if err == nil {
		if a.db != nil {
			if cacheErr := a.db.CacheDirectory(ctx, a.cfg.DirectoryURL, body); cacheErr != nil {
				common.LogWarn("directory cache write failed: %v", cacheErr)
			}
		}
		return relay.ParseDirectory(body)
	}

	if a.db != nil {
		cached, fetchedAt, cacheErr := a.db.CachedDirectory(ctx, a.cfg.DirectoryURL, cacheMaxAge)
		if cacheErr == nil {
			common.LogWarn("directory fetch failed (%v), using cached feed from %s",
				err, fetchedAt.Format(time.RFC3339))
			return relay.ParseDirectory(cached)
		}
	}
	return nil, err
}

// record appends one attempt to the history store.
func (a *App) record(s *vpn.Session, res vpn.Result, started time.Time) {
	if a.db == nil {
		return
	}
	rec := store.SessionRecord{
		ID:          s.ID,
		Host:        s.Candidate.Host,
		CountryCode: s.Candidate.CountryCode,
		Result:      res.String(),
		Bitrate:     s.LastRate(),
		StartedAt:   started,
		EndedAt:     time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.db.RecordSession(ctx, rec); err != nil {
		common.LogWarn("history write failed: %v", err)
	}
}

// prepareAuth resolves relay credentials into an on-disk auth file when
// an auth user is configured. Missing credentials are prompted for once
// and stored.
func (a *App) prepareAuth() (string, error) {
	user := a.cfg.AuthUser
	if user == "" {
		return "", nil
	}

	creds, err := keyring.Lookup(user)
	if errors.Is(err, common.ErrCredentialsNotFound) {
		creds, err = promptCredentials(user)
		if err != nil {
			return "", err
		}
		if storeErr := keyring.Store(user, creds); storeErr != nil {
			common.LogWarn("could not store credentials: %v", storeErr)
		}
	} else if err != nil {
		return "", err
	}

	return keyring.WriteAuthFile(creds)
}

func promptCredentials(user string) (keyring.Credentials, error) {
	fmt.Printf("Password for relay account %q: ", user)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return keyring.Credentials{}, common.WrapError(err, "could not read password")
	}
	if len(secret) == 0 {
		return keyring.Credentials{}, errors.New("empty password")
	}
	return keyring.Credentials{Username: user, Password: string(secret)}, nil
}

// SelfTest runs one throughput measurement on the current default route
// and reports whether it clears the configured floor.
func (a *App) SelfTest(ctx context.Context) error {
	meter := &vpn.Meter{URL: a.cfg.TestURL, Timeout: common.MeasureTimeout}
	rate, err := meter.Measure(ctx)
	if err != nil {
		return common.WrapError(err, "self-test measurement failed")
	}

	fmt.Printf("throughput: %s (floor %s)\n", vpn.FormatRate(rate), vpn.FormatRate(a.cfg.HealthFloor()))
	if rate < a.cfg.HealthFloor() {
		return common.WrapError(common.ErrHealthCheck, "throughput below floor")
	}
	return nil
}

// History prints recent session attempts.
func (a *App) History(ctx context.Context, limit int) error {
	if a.db == nil {
		return errors.New("history store unavailable")
	}
	recs, err := a.db.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No session history.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tRELAY\tCC\tRESULT\tRATE")
	fmt.Fprintln(w, "----\t-----\t--\t------\t----")
	for _, rec := range recs {
		rate := "-"
		if rec.Bitrate > 0 {
			rate = vpn.FormatRate(rec.Bitrate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04"),
			rec.Host, strings.ToUpper(rec.CountryCode), rec.Result, rate)
	}
	return w.Flush()
}
