package githost

import (
	"context"

	gitlab "github.com/xanzy/go-gitlab"
)

// gitlabSource lists a group's projects via the GitLab REST API,
// authenticated with a personal access token.
type gitlabSource struct {
	client *gitlab.Client
}

func newGitLabSource(token, baseURL string) (*gitlabSource, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, err
	}
	return &gitlabSource{client: client}, nil
}

func (s *gitlabSource) ListProjects(ctx context.Context, namespace string) ([]Project, error) {
	var out []Project
	includeSubgroups := true
	opts := &gitlab.ListGroupProjectsOptions{
		ListOptions:      gitlab.ListOptions{PerPage: 100},
		IncludeSubGroups: &includeSubgroups,
	}

	for {
		projects, resp, err := s.client.Groups.ListGroupProjects(namespace, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			out = append(out, Project{
				ID:            p.PathWithNamespace,
				Name:          p.Path,
				CloneURL:      p.HTTPURLToRepo,
				DefaultBranch: p.DefaultBranch,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}
