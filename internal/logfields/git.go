package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("bitbucket.pull_request", val)
}

func PullRequestURL(val string) zap.Field {
	return zap.String("bitbucket.pull_request_url", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Build(val string) zap.Field {
	return zap.String("ci.build", val)
}

func BuildURL(val string) zap.Field {
	return zap.String("ci.build_url", val)
}
