package githost

import (
	"context"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// githubSource lists an organization's repositories via the GitHub
// REST API, authenticated with a personal access token. Grounded on the
// teacher's Crawler.searchGitHub, which paginated the GitHub search API
// with the same kind of page-until-exhausted loop used here.
type githubSource struct {
	client *github.Client
}

func newGitHubSource(token string) *githubSource {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &githubSource{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

func (s *githubSource) ListProjects(ctx context.Context, namespace string) ([]Project, error) {
	var out []Project
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		repos, resp, err := s.client.Repositories.ListByOrg(ctx, namespace, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			out = append(out, Project{
				ID:            r.GetFullName(),
				Name:          r.GetName(),
				CloneURL:      r.GetCloneURL(),
				DefaultBranch: r.GetDefaultBranch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}
