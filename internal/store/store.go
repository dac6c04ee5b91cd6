// Package store persists generated subscriptions so they can be served by id.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/John-Robertt/subgen-go/internal/compiler"
	"github.com/John-Robertt/subgen-go/internal/log"
	"github.com/John-Robertt/subgen-go/internal/model"
)

const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("store: record not found")

type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Set(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Sweeper is implemented by backends that do not expire records on their own.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Stats struct {
	Driver string `json:"driver"`
	Count  int    `json:"count"`
}

// Options is the persisted subset of compiler.Options. Base and Classifier
// belong to the server, not to the record.
type Options struct {
	GroupByCountry        bool     `yaml:"group-by-country" json:"groupByCountry"`
	DetectResidential     bool     `yaml:"detect-residential" json:"detectResidential"`
	ResidentialKeywords   []string `yaml:"residential-keywords,omitempty" json:"residentialKeywords,omitempty"`
	SelectedRulesets      []string `yaml:"selected-rulesets,omitempty" json:"selectedRulesets,omitempty"`
	IncludeBusinessGroups *bool    `yaml:"include-business-groups,omitempty" json:"includeBusinessGroups,omitempty"`
}

func OptionsFrom(o compiler.Options) Options {
	return Options{
		GroupByCountry:        o.GroupByCountry,
		DetectResidential:     o.DetectResidential,
		ResidentialKeywords:   o.ResidentialKeywords,
		SelectedRulesets:      o.SelectedRulesets,
		IncludeBusinessGroups: o.IncludeBusinessGroups,
	}
}

func (o Options) Compiler() compiler.Options {
	return compiler.Options{
		GroupByCountry:        o.GroupByCountry,
		DetectResidential:     o.DetectResidential,
		ResidentialKeywords:   o.ResidentialKeywords,
		SelectedRulesets:      o.SelectedRulesets,
		IncludeBusinessGroups: o.IncludeBusinessGroups,
	}
}

// Record is one saved subscription. Nodes are stored post-override so a
// later regeneration gives the same document.
type Record struct {
	ID        string
	Nodes     []model.Proxy
	Options   Options
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// NewID is a random v4 UUID in its 32-char hex form.
func NewID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")
}

func NewRecord(nodes []model.Proxy, opt Options, ttl time.Duration, now time.Time) *Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Record{
		ID:        NewID(),
		Nodes:     nodes,
		Options:   opt,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

type Config struct {
	Driver string        `yaml:"driver"`
	Path   string        `yaml:"path"`
	TTL    time.Duration `yaml:"ttl"`
}

// Open selects a backend by driver name. An empty driver means memory.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "bolt", "bbolt":
		if cfg.Path == "" {
			return nil, errors.New("store: bolt driver needs a path")
		}
		return OpenBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// RunSweeper calls Sweep on s every interval until ctx is done. It is a
// no-op for backends that expire on their own.
func RunSweeper(ctx context.Context, s Store, every time.Duration) {
	sw, ok := s.(Sweeper)
	if !ok || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				log.Warnln("[Store] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Debugln("[Store] swept %d expired records", n)
			}
		}
	}
}
