package httpapi

import (
	"time"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/store"
)

// Options wires the server's collaborators. Zero values get working defaults,
// including an in-memory store.
type Options struct {
	// RequestTimeout bounds one API call including every fetch it makes.
	RequestTimeout time.Duration

	// PublicBaseURL is the scheme://host prefix of returned subscribe URLs.
	// Empty means derive it from the request.
	PublicBaseURL string

	Fetcher          *fetch.Client
	FetchConcurrency int
	// ParseWorkers > 1 parses subscription lines concurrently.
	ParseWorkers int

	Store store.Store
	// TTL is the lifetime of a generated subscription.
	TTL time.Duration

	Catalog *catalog.Catalog
	Base    *model.Settings

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.Fetcher == nil {
		o.Fetcher = fetch.New(fetch.Options{})
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 4
	}
	if o.Store == nil {
		o.Store = store.NewMemory(o.TTL)
	}
	if o.TTL <= 0 {
		o.TTL = store.DefaultTTL
	}
	if o.Catalog == nil {
		o.Catalog = catalog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
