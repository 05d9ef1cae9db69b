// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package autoremove deletes torrents matching user-defined rules: low
// upload speed, disk pressure, download/upload imbalance. A rule has to
// match continuously for its hold time before anything is removed, and at
// most one torrent goes per sweep.
package autoremove

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/pkg/fmtutil"
)

const minSweepInterval = 30 * time.Second

// Rule is one removal rule from the JSON rules file. Zero-valued fields do
// not constrain. All conditions of a rule must hold for it to match.
type Rule struct {
	Name string `json:"name"`

	// MinFreeGB arms the rule only while the disk holding the torrent has
	// less than this much free space.
	MinFreeGB float64 `json:"min_free_gb"`

	// MaxUpBps matches torrents uploading at or below this rate.
	MaxUpBps int64 `json:"max_up_bps"`

	// MaxDlBps and MinDlBps bound the download rate.
	MaxDlBps int64 `json:"max_dl_bps"`
	MinDlBps int64 `json:"min_dl_bps"`

	// MinDlUpRatio matches leech-heavy torrents: download rate above
	// upload rate times this factor.
	MinDlUpRatio float64 `json:"min_dl_up_ratio"`

	RequireComplete bool `json:"require_complete"`

	// MinLowSec is how long the rule must match continuously before the
	// torrent is removed. Defaults to 60.
	MinLowSec int `json:"min_low_sec"`
}

// Removal describes one performed or previewed deletion.
type Removal struct {
	Hash string
	Name string
	Rule string
	Size int64
}

// Client is the slice of the qBittorrent client the sweeper needs.
type Client interface {
	AllTorrents(ctx context.Context) ([]qbt.Torrent, error)
	Delete(ctx context.Context, hashes []string, deleteFiles bool) error
}

// Notifier receives a message per removed torrent.
type Notifier interface {
	AutoremoveExecuted(name, reason string, size int64)
}

// Service sweeps the full torrent list against the rules file.
type Service struct {
	cfg      *config.AppConfig
	client   Client
	store    *models.TorrentStateStore
	notifier Notifier

	// since tracks when each hash:rule pair first matched, persisted next
	// to the rules file so hold times survive restarts and one-shot runs.
	since map[string]time.Time

	diskFree func(path string) int64
	now      func() time.Time
}

func NewService(cfg *config.AppConfig, client Client) *Service {
	s := &Service{
		cfg:      cfg,
		client:   client,
		since:    map[string]time.Time{},
		diskFree: freeSpace,
		now:      time.Now,
	}
	s.loadHoldState()
	return s
}

// SetStateStore wires the snapshot store so removed torrents are also
// dropped from persistence.
func (s *Service) SetStateStore(store *models.TorrentStateStore) { s.store = store }

// SetNotifier wires removal notifications.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Run sweeps on the configured interval until the context ends. Disabled
// configs are re-checked each pass so a reload can switch it on.
func (s *Service) Run(ctx context.Context) {
	for {
		interval := time.Duration(s.cfg.Get().AutoremoveIntervalSec) * time.Second
		if interval < minSweepInterval {
			interval = minSweepInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if !s.cfg.Get().AutoremoveEnabled {
			continue
		}
		if _, err := s.Sweep(ctx, false); err != nil {
			log.Error().Err(err).Msg("Autoremove sweep failed")
		}
	}
}

// Sweep evaluates every torrent against the rules. In dry-run mode it
// returns all candidates without touching hold state or the client; a real
// sweep removes at most the single slowest uploader and returns it.
func (s *Service) Sweep(ctx context.Context, dryRun bool) ([]Removal, error) {
	rules, err := s.loadRules()
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	torrents, err := s.client.AllTorrents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list torrents")
	}
	sort.Slice(torrents, func(i, j int) bool { return torrents[i].UpSpeed < torrents[j].UpSpeed })

	now := s.now()
	var planned []Removal

	for _, t := range torrents {
		free := s.diskFree(t.SavePath)
		for idx, r := range rules {
			holdKey := ruleKey(t.Hash, idx)
			if !ruleMatches(r, t, free) {
				if !dryRun {
					delete(s.since, holdKey)
				}
				continue
			}

			rm := Removal{Hash: t.Hash, Name: t.Name, Rule: ruleName(r, idx), Size: t.TotalSize}
			if dryRun {
				planned = append(planned, rm)
				break
			}

			first, armed := s.since[holdKey]
			if !armed {
				s.since[holdKey] = now
				continue
			}
			if now.Sub(first) >= holdTime(r) {
				planned = append(planned, rm)
				break
			}
		}
		if !dryRun && len(planned) > 0 {
			break
		}
	}

	if dryRun {
		return planned, nil
	}

	for _, rm := range planned {
		if err := s.remove(ctx, rm); err != nil {
			log.Error().Err(err).Str("name", rm.Name).Msg("Autoremove delete failed")
		}
	}
	s.saveHoldState()
	return planned, nil
}

func (s *Service) remove(ctx context.Context, rm Removal) error {
	log.Warn().
		Str("name", rm.Name).
		Str("rule", rm.Rule).
		Str("size", fmtutil.Size(rm.Size)).
		Msg("Autoremove deleting torrent")

	if s.notifier != nil {
		s.notifier.AutoremoveExecuted(rm.Name, rm.Rule, rm.Size)
	}
	if err := s.client.Delete(ctx, []string{rm.Hash}, true); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, rm.Hash); err != nil {
			log.Warn().Err(err).Str("hash", rm.Hash).Msg("Failed to drop persisted state")
		}
	}
	for key := range s.since {
		if strings.HasPrefix(key, rm.Hash+":") {
			delete(s.since, key)
		}
	}
	return nil
}

func ruleMatches(r Rule, t qbt.Torrent, freeBytes int64) bool {
	if minFree := int64(r.MinFreeGB * float64(1<<30)); minFree > 0 && freeBytes >= minFree {
		return false
	}
	if r.RequireComplete && t.Progress < 0.999 {
		return false
	}
	if r.MaxUpBps > 0 && t.UpSpeed > r.MaxUpBps {
		return false
	}
	if r.MaxDlBps > 0 && t.DlSpeed > r.MaxDlBps {
		return false
	}
	if r.MinDlBps > 0 && t.DlSpeed < r.MinDlBps {
		return false
	}
	if r.MinDlUpRatio > 0 {
		if t.UpSpeed == 0 {
			if t.DlSpeed == 0 {
				return false
			}
		} else if float64(t.DlSpeed) <= float64(t.UpSpeed)*r.MinDlUpRatio {
			return false
		}
	}
	return true
}

func holdTime(r Rule) time.Duration {
	if r.MinLowSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.MinLowSec) * time.Second
}

func ruleKey(hash string, idx int) string {
	return hash + ":" + strconv.Itoa(idx)
}

func ruleName(r Rule, idx int) string {
	if r.Name != "" {
		return r.Name
	}
	return "rule #" + strconv.Itoa(idx)
}

func (s *Service) loadRules() ([]Rule, error) {
	path := s.cfg.Get().AutoremoveRulesPath
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read rules file")
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, errors.Wrap(err, "parse rules file")
	}
	return rules, nil
}

func (s *Service) holdStatePath() string {
	path := s.cfg.Get().AutoremoveRulesPath
	if path == "" {
		return ""
	}
	return path + ".state.json"
}

func (s *Service) loadHoldState() {
	path := s.holdStatePath()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	for key, unix := range raw {
		s.since[key] = time.Unix(unix, 0)
	}
}

func (s *Service) saveHoldState() {
	path := s.holdStatePath()
	if path == "" {
		return
	}
	raw := make(map[string]int64, len(s.since))
	for key, t := range s.since {
		raw[key] = t.Unix()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Debug().Err(err).Msg("Failed to save autoremove hold state")
	}
}
