package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// ErrIgnoredEvent is returned by ParseTrigger for valid deliveries that do
// not request a run, such as pings or pushes to working branches.
var ErrIgnoredEvent = errors.New("event does not trigger a run")

// ParseTrigger validates a webhook delivery against secret and returns the
// repositories it asks to process. An empty secret skips signature checks.
func ParseTrigger(r *http.Request, secret []byte) ([]string, error) {
	payload, err := gh.ValidatePayload(r, secret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}

	var repos []string
	switch e := event.(type) {
	case *gh.PushEvent:
		// Pushes made by caretaker itself land on working branches.
		if isWorkingRef(e.GetRef()) {
			return nil, ErrIgnoredEvent
		}
		repos = append(repos, e.GetRepo().GetFullName())
	case *gh.InstallationEvent:
		if e.GetAction() != "created" {
			return nil, ErrIgnoredEvent
		}
		for _, repo := range e.Repositories {
			repos = append(repos, repo.GetFullName())
		}
	case *gh.InstallationRepositoriesEvent:
		if e.GetAction() != "added" {
			return nil, ErrIgnoredEvent
		}
		for _, repo := range e.RepositoriesAdded {
			repos = append(repos, repo.GetFullName())
		}
	default:
		return nil, ErrIgnoredEvent
	}

	if len(repos) == 0 {
		return nil, ErrIgnoredEvent
	}
	return repos, nil
}

func isWorkingRef(ref string) bool {
	return strings.HasPrefix(ref, "refs/heads/"+snapshot.BranchPrefix)
}
