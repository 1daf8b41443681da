package main

import (
	"context"
	"io"

	"github.com/auto-dns/docker-proxy/internal/directory"
	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/route"
)

type application interface {
	Run(ctx context.Context) error
	Fetch(ctx context.Context, rawURL string, out io.Writer) error
	Dial(ctx context.Context, address string, in io.Reader, out io.Writer) error
	Scope() domain.Scope
	Directory() *directory.ScopedDirectory
	Selector(relayAddr string) *route.Selector
	ComposeFile() ([]byte, error)
	PublishedEntries(ctx context.Context) ([]domain.IndexEntry, error)
}
