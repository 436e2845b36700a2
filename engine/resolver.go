package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

// Resolution failure reasons surfaced to the router.
var (
	ErrBlocked  = errors.New("track is blocked")
	ErrNotFound = errors.New("track not found")
)

var (
	shareURLPattern = regexp.MustCompile(`https://open\.spotify\.com/(?:.*?)?track/[^\s]+`)
	trackURIPattern = regexp.MustCompile(`spotify:track:[^\s]+`)
)

// Resolver turns a raw chat message into a track identifier: a share link or
// native URI embedded anywhere in the message wins, otherwise the text goes
// to search. Every path ends in the block-list check.
type Resolver struct {
	// search issues the provider search (with the token retry contract
	// applied) and returns the first matching track id, "" when empty.
	search func(ctx context.Context, query string) (string, error)
}

func NewResolver(search func(ctx context.Context, query string) (string, error)) *Resolver {
	return &Resolver{search: search}
}

// Resolve returns the track id for the message, or ErrBlocked / ErrNotFound.
// Search-path failures resolve as ErrNotFound so chat always gets a
// user-facing answer instead of a transport error.
func (r *Resolver) Resolve(ctx context.Context, message string, aliases, blocked []string) (string, error) {
	if id := trackIDFromShareURL(message); id != "" {
		return checkBlocked(id, blocked)
	}
	if id := trackIDFromURI(message); id != "" {
		return checkBlocked(id, blocked)
	}

	id, err := r.search(ctx, searchQuery(message, aliases))
	if err != nil {
		slog.Debug("track search failed", slog.Any("err", err))
		return "", ErrNotFound
	}
	if id == "" {
		return "", ErrNotFound
	}
	return checkBlocked(id, blocked)
}

// trackIDFromShareURL extracts the identifier from an open.spotify.com share
// link: the trailing path segment, before any query string.
func trackIDFromShareURL(message string) string {
	m := shareURLPattern.FindString(message)
	if m == "" {
		return ""
	}
	parts := strings.Split(m, "/")
	last := parts[len(parts)-1]
	id, _, _ := strings.Cut(last, "?")
	return id
}

// trackIDFromURI extracts the identifier from a spotify:track: URI.
func trackIDFromURI(message string) string {
	m := trackURIPattern.FindString(message)
	if m == "" {
		return ""
	}
	parts := strings.SplitN(m, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	id, _, _ := strings.Cut(parts[2], "?")
	return id
}

// searchQuery strips command aliases and normalizes separators before the
// text goes to the provider search.
func searchQuery(message string, aliases []string) string {
	q := message
	for _, a := range aliases {
		q = strings.ReplaceAll(q, a, "")
	}
	q = strings.ReplaceAll(q, "-", " ")
	q = strings.ReplaceAll(q, " by ", " ")
	return strings.TrimSpace(q)
}

func checkBlocked(id string, blocked []string) (string, error) {
	for _, b := range blocked {
		if b == id {
			return "", ErrBlocked
		}
	}
	return id, nil
}
